package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Dosada05/pong-arena/models"
)

// Operation names accepted by MemoryStore.FailOn.
const (
	OpPlayersEnsure            = "players.ensure"
	OpPlayersUpdate            = "players.update"
	OpMatchesCreate            = "matches.create"
	OpMatchesAddParticipant    = "matches.add_participant"
	OpMatchesUpdateParticipant = "matches.update_participant"
	OpMatchesComplete          = "matches.complete"
	OpTournamentsCreate        = "tournaments.create"
	OpTournamentsTransition    = "tournaments.transition"
	OpTournamentsSetChampion   = "tournaments.set_champion"
	OpTournamentsSetPlacement  = "tournaments.set_placement"
)

// MemoryStore is an in-process Store. Transactions are serialised by a single
// mutex and applied to a copy of the data that replaces the live copy only on
// commit. Calling Repos() from inside RunInTx deadlocks; use the repos passed
// to the callback instead.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
	now  func() time.Time

	faultMu sync.Mutex
	faults  map[string]error
}

type memData struct {
	players          map[int]models.Player
	matches          map[int]*models.Match
	tournaments      map[int]models.Tournament
	participants     map[int][]models.TournamentParticipant
	nextMatchID      int
	nextTournamentID int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: &memData{
			players:      make(map[int]models.Player),
			matches:      make(map[int]*models.Match),
			tournaments:  make(map[int]models.Tournament),
			participants: make(map[int][]models.TournamentParticipant),
		},
		now:    time.Now,
		faults: make(map[string]error),
	}
}

// FailOn makes every later call of op return err until cleared with a nil err.
func (s *MemoryStore) FailOn(op string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (s *MemoryStore) fault(op string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	return s.faults[op]
}

func (s *MemoryStore) Repos() Repos {
	return s.reposFor(nil)
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(ctx, s.reposFor(work)); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *MemoryStore) reposFor(tx *memData) Repos {
	base := memBase{store: s, tx: tx}
	return Repos{
		Players:     &memPlayerRepository{base},
		Matches:     &memMatchRepository{base},
		Tournaments: &memTournamentRepository{base},
	}
}

func (d *memData) clone() *memData {
	c := &memData{
		players:          make(map[int]models.Player, len(d.players)),
		matches:          make(map[int]*models.Match, len(d.matches)),
		tournaments:      make(map[int]models.Tournament, len(d.tournaments)),
		participants:     make(map[int][]models.TournamentParticipant, len(d.participants)),
		nextMatchID:      d.nextMatchID,
		nextTournamentID: d.nextTournamentID,
	}
	for id, p := range d.players {
		c.players[id] = p
	}
	for id, m := range d.matches {
		c.matches[id] = copyMatch(m)
	}
	for id, t := range d.tournaments {
		c.tournaments[id] = t
	}
	for id, ps := range d.participants {
		c.participants[id] = append([]models.TournamentParticipant(nil), ps...)
	}
	return c
}

func copyMatch(m *models.Match) *models.Match {
	cp := *m
	cp.Participants = append([]models.MatchParticipant(nil), m.Participants...)
	return &cp
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

type memBase struct {
	store *MemoryStore
	tx    *memData
}

// do runs fn against the transaction copy, or against live data under the
// store lock when not in a transaction.
func (b memBase) do(op string, fn func(d *memData) error) error {
	if op != "" {
		if err := b.store.fault(op); err != nil {
			return err
		}
	}
	if b.tx != nil {
		return fn(b.tx)
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	return fn(b.store.data)
}

type memPlayerRepository struct{ memBase }

func (r *memPlayerRepository) Ensure(ctx context.Context, id int) (*models.Player, error) {
	var out models.Player
	err := r.do(OpPlayersEnsure, func(d *memData) error {
		p, ok := d.players[id]
		if !ok {
			p = *models.NewPlayer(id)
			p.CreatedAt = r.store.now()
			d.players[id] = p
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *memPlayerRepository) GetByID(ctx context.Context, id int) (*models.Player, error) {
	var out models.Player
	err := r.do("", func(d *memData) error {
		p, ok := d.players[id]
		if !ok {
			return ErrPlayerNotFound
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *memPlayerRepository) GetForUpdate(ctx context.Context, id int) (*models.Player, error) {
	return r.GetByID(ctx, id)
}

func (r *memPlayerRepository) UpdateAggregate(ctx context.Context, p *models.Player) error {
	return r.do(OpPlayersUpdate, func(d *memData) error {
		if _, ok := d.players[p.ID]; !ok {
			return ErrPlayerNotFound
		}
		d.players[p.ID] = *p
		return nil
	})
}

type memMatchRepository struct{ memBase }

func (r *memMatchRepository) Create(ctx context.Context, m *models.Match) error {
	return r.do(OpMatchesCreate, func(d *memData) error {
		if m.TournamentID != nil && m.Round != nil && m.BracketSlot != nil {
			for _, existing := range d.matches {
				if existing.TournamentID != nil && *existing.TournamentID == *m.TournamentID &&
					existing.Round != nil && *existing.Round == *m.Round &&
					existing.BracketSlot != nil && *existing.BracketSlot == *m.BracketSlot {
					return ErrMatchSlotConflict
				}
			}
		}
		d.nextMatchID++
		m.ID = d.nextMatchID
		m.CreatedAt = r.store.now()
		stored := copyMatch(m)
		stored.Participants = nil
		d.matches[m.ID] = stored
		return nil
	})
}

func (r *memMatchRepository) AddParticipant(ctx context.Context, p *models.MatchParticipant) error {
	return r.do(OpMatchesAddParticipant, func(d *memData) error {
		m, ok := d.matches[p.MatchID]
		if !ok {
			return ErrMatchNotFound
		}
		if _, ok := d.players[p.PlayerID]; !ok {
			return ErrMatchPlayerInvalid
		}
		for _, existing := range m.Participants {
			if existing.PlayerID == p.PlayerID || existing.Slot == p.Slot {
				return ErrMatchParticipantConflict
			}
		}
		m.Participants = append(m.Participants, *p)
		sort.Slice(m.Participants, func(i, j int) bool { return m.Participants[i].Slot < m.Participants[j].Slot })
		return nil
	})
}

func (r *memMatchRepository) GetByID(ctx context.Context, id int) (*models.Match, error) {
	var out *models.Match
	err := r.do("", func(d *memData) error {
		m, ok := d.matches[id]
		if !ok {
			return ErrMatchNotFound
		}
		out = copyMatch(m)
		return nil
	})
	return out, err
}

func (r *memMatchRepository) GetForUpdate(ctx context.Context, id int) (*models.Match, error) {
	return r.GetByID(ctx, id)
}

func (r *memMatchRepository) MarkStarted(ctx context.Context, id int, at time.Time) (bool, error) {
	var started bool
	err := r.do("", func(d *memData) error {
		m, ok := d.matches[id]
		if !ok {
			return ErrMatchNotFound
		}
		if m.StartedAt == nil {
			m.StartedAt = timePtr(at)
			started = true
		}
		return nil
	})
	return started, err
}

func (r *memMatchRepository) UpdateParticipantResult(ctx context.Context, p *models.MatchParticipant) error {
	return r.do(OpMatchesUpdateParticipant, func(d *memData) error {
		m, ok := d.matches[p.MatchID]
		if !ok {
			return ErrMatchNotFound
		}
		for i := range m.Participants {
			if m.Participants[i].PlayerID == p.PlayerID {
				m.Participants[i].Goals = p.Goals
				m.Participants[i].RatingBefore = p.RatingBefore
				if p.RatingAfter != nil {
					m.Participants[i].RatingAfter = intPtr(*p.RatingAfter)
				} else {
					m.Participants[i].RatingAfter = nil
				}
				return nil
			}
		}
		return ErrMatchNotFound
	})
}

func (r *memMatchRepository) Complete(ctx context.Context, id int, winnerID *int, forfeit bool, at time.Time) error {
	return r.do(OpMatchesComplete, func(d *memData) error {
		m, ok := d.matches[id]
		if !ok || m.Status != models.MatchStatusPending {
			return ErrMatchNotFound
		}
		m.Status = models.MatchStatusCompleted
		m.WinnerID = nil
		if winnerID != nil {
			m.WinnerID = intPtr(*winnerID)
		}
		m.Forfeit = forfeit
		m.CompletedAt = timePtr(at)
		return nil
	})
}

func (r *memMatchRepository) FindActiveByPlayer(ctx context.Context, playerID int) (*models.Match, error) {
	var out *models.Match
	err := r.do("", func(d *memData) error {
		for _, m := range d.matches {
			if m.Status != models.MatchStatusPending || !m.HasPlayer(playerID) {
				continue
			}
			if out == nil || m.ID > out.ID {
				out = m
			}
		}
		if out == nil {
			return ErrMatchNotFound
		}
		out = copyMatch(out)
		return nil
	})
	return out, err
}

func (r *memMatchRepository) ListByTournament(ctx context.Context, tournamentID int, round *int) ([]*models.Match, error) {
	out := make([]*models.Match, 0)
	err := r.do("", func(d *memData) error {
		for _, m := range d.matches {
			if m.TournamentID == nil || *m.TournamentID != tournamentID {
				continue
			}
			if round != nil && (m.Round == nil || *m.Round != *round) {
				continue
			}
			out = append(out, copyMatch(m))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		ri, rj := derefOr(out[i].Round), derefOr(out[j].Round)
		if ri != rj {
			return ri < rj
		}
		si, sj := derefOr(out[i].BracketSlot), derefOr(out[j].BracketSlot)
		if si != sj {
			return si < sj
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func derefOr(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

type memTournamentRepository struct{ memBase }

func (r *memTournamentRepository) Create(ctx context.Context, t *models.Tournament) error {
	return r.do(OpTournamentsCreate, func(d *memData) error {
		if _, ok := d.players[t.CreatorID]; !ok {
			return ErrTournamentInvalidCreator
		}
		d.nextTournamentID++
		t.ID = d.nextTournamentID
		t.CreatedAt = r.store.now()
		stored := *t
		stored.Participants = nil
		stored.Matches = nil
		d.tournaments[t.ID] = stored
		return nil
	})
}

func (r *memTournamentRepository) GetByID(ctx context.Context, id int) (*models.Tournament, error) {
	var out models.Tournament
	err := r.do("", func(d *memData) error {
		t, ok := d.tournaments[id]
		if !ok {
			return ErrTournamentNotFound
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *memTournamentRepository) GetForUpdate(ctx context.Context, id int) (*models.Tournament, error) {
	return r.GetByID(ctx, id)
}

func (r *memTournamentRepository) List(ctx context.Context, filter ListTournamentsFilter) ([]models.Tournament, error) {
	out := make([]models.Tournament, 0)
	err := r.do("", func(d *memData) error {
		for _, t := range d.tournaments {
			if filter.Status != nil && t.Status != *filter.Status {
				continue
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []models.Tournament{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memTournamentRepository) Transition(ctx context.Context, id int, from, to models.TournamentStatus, at time.Time) error {
	return r.do(OpTournamentsTransition, func(d *memData) error {
		t, ok := d.tournaments[id]
		if !ok {
			return ErrTournamentNotFound
		}
		if t.Status != from {
			return ErrTournamentStatusConflict
		}
		t.Status = to
		switch to {
		case models.TournamentInProgress:
			t.StartedAt = timePtr(at)
		case models.TournamentCompleted:
			t.CompletedAt = timePtr(at)
		}
		d.tournaments[id] = t
		return nil
	})
}

func (r *memTournamentRepository) SetChampion(ctx context.Context, id int, playerID int) error {
	return r.do(OpTournamentsSetChampion, func(d *memData) error {
		t, ok := d.tournaments[id]
		if !ok {
			return ErrTournamentNotFound
		}
		t.ChampionID = intPtr(playerID)
		d.tournaments[id] = t
		return nil
	})
}

func (r *memTournamentRepository) AddParticipant(ctx context.Context, p *models.TournamentParticipant) error {
	return r.do("", func(d *memData) error {
		if _, ok := d.tournaments[p.TournamentID]; !ok {
			return ErrTournamentNotFound
		}
		for _, existing := range d.participants[p.TournamentID] {
			if existing.PlayerID == p.PlayerID {
				return ErrParticipantConflict
			}
		}
		p.JoinedAt = r.store.now()
		d.participants[p.TournamentID] = append(d.participants[p.TournamentID], *p)
		return nil
	})
}

func (r *memTournamentRepository) RemoveParticipant(ctx context.Context, tournamentID, playerID int) error {
	return r.do("", func(d *memData) error {
		ps := d.participants[tournamentID]
		for i, existing := range ps {
			if existing.PlayerID == playerID {
				d.participants[tournamentID] = append(ps[:i:i], ps[i+1:]...)
				return nil
			}
		}
		return ErrParticipantNotFound
	})
}

func (r *memTournamentRepository) ListParticipants(ctx context.Context, tournamentID int) ([]models.TournamentParticipant, error) {
	out := make([]models.TournamentParticipant, 0)
	err := r.do("", func(d *memData) error {
		out = append(out, d.participants[tournamentID]...)
		return nil
	})
	return out, err
}

func (r *memTournamentRepository) CountParticipants(ctx context.Context, tournamentID int) (int, error) {
	var n int
	err := r.do("", func(d *memData) error {
		n = len(d.participants[tournamentID])
		return nil
	})
	return n, err
}

func (r *memTournamentRepository) SetSeed(ctx context.Context, tournamentID, playerID, seed int) error {
	return r.updateParticipant(tournamentID, playerID, "", func(p *models.TournamentParticipant) {
		p.Seed = intPtr(seed)
	})
}

func (r *memTournamentRepository) SetPlacement(ctx context.Context, tournamentID, playerID, placement int) error {
	return r.updateParticipant(tournamentID, playerID, OpTournamentsSetPlacement, func(p *models.TournamentParticipant) {
		p.Placement = intPtr(placement)
	})
}

func (r *memTournamentRepository) updateParticipant(tournamentID, playerID int, op string, apply func(p *models.TournamentParticipant)) error {
	return r.do(op, func(d *memData) error {
		ps := d.participants[tournamentID]
		for i := range ps {
			if ps[i].PlayerID == playerID {
				apply(&ps[i])
				return nil
			}
		}
		return ErrParticipantNotFound
	})
}
