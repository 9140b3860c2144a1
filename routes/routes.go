package routes

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware" // Alias to avoid conflict
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/Dosada05/pong-arena/docs"
	"github.com/Dosada05/pong-arena/handlers"
	"github.com/Dosada05/pong-arena/middleware"
)

// OnlineCounter reports how many players hold a websocket connection.
type OnlineCounter interface {
	OnlineCount() int
}

type Dependencies struct {
	TournamentHandler *handlers.TournamentHandler
	MatchHandler      *handlers.MatchHandler
	WebSocketHandler  *handlers.WebSocketHandler
	Verifier          middleware.TokenVerifier
	Online            OnlineCounter
	AllowedOrigins    []string
}

func InitRoutes(deps Dependencies) *chi.Mux {
	router := chi.NewRouter()

	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		online := 0
		if deps.Online != nil {
			online = deps.Online.OnlineCount()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "online_players": online})
	})
	router.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	// The websocket handler authenticates before upgrading.
	router.Get("/ws", deps.WebSocketHandler.ServeWs)

	router.Get("/matches/{matchID}", deps.MatchHandler.GetMatchHandler)
	router.Get("/players/{playerID}", deps.MatchHandler.GetPlayerHandler)

	th := deps.TournamentHandler
	router.Route("/tournaments", func(r chi.Router) {
		// Public read-only tournament routes
		r.Get("/", th.ListHandler)
		r.Get("/{tournamentID}", th.GetByIDHandler)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(deps.Verifier))

			r.Post("/", th.CreateHandler)
			r.Post("/{tournamentID}/register", th.RegisterHandler)
			r.Delete("/{tournamentID}/register", th.UnregisterHandler)
			r.Post("/{tournamentID}/start", th.StartHandler)
			r.Post("/matches/{matchID}/result", th.ReportResultHandler)
		})
	})

	return router
}
