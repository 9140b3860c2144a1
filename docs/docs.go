// Package docs registers the OpenAPI description of the HTTP API for swagger UI.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/healthz": {
            "get": {"summary": "Liveness check with the number of connected players", "responses": {"200": {"description": "OK"}}}
        },
        "/tournaments": {
            "get": {
                "summary": "List tournaments",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string", "enum": ["registering", "in_progress", "completed"]},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "offset", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
            },
            "post": {
                "summary": "Create a tournament",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateTournamentInput"}}],
                "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}, "401": {"description": "Unauthorized"}}
            }
        },
        "/tournaments/{tournamentID}": {
            "get": {
                "summary": "Tournament with participants and matches",
                "parameters": [{"name": "tournamentID", "in": "path", "required": true, "type": "integer"}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/tournaments/{tournamentID}/register": {
            "post": {
                "summary": "Register the caller",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "tournamentID", "in": "path", "required": true, "type": "integer"}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}
            },
            "delete": {
                "summary": "Unregister the caller",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "tournamentID", "in": "path", "required": true, "type": "integer"}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}, "409": {"description": "Conflict"}}
            }
        },
        "/tournaments/{tournamentID}/start": {
            "post": {
                "summary": "Seed the bracket and open round 1",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "tournamentID", "in": "path", "required": true, "type": "integer"}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "403": {"description": "Forbidden"}, "409": {"description": "Conflict"}}
            }
        },
        "/tournaments/matches/{matchID}/result": {
            "post": {
                "summary": "Report a tournament match result",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "matchID", "in": "path", "required": true, "type": "integer"},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReportResultInput"}}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "403": {"description": "Forbidden"}, "409": {"description": "Conflict"}}
            }
        },
        "/matches/{matchID}": {
            "get": {
                "summary": "Match with both participants",
                "parameters": [{"name": "matchID", "in": "path", "required": true, "type": "integer"}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/players/{playerID}": {
            "get": {
                "summary": "Player rating and aggregate statistics",
                "parameters": [{"name": "playerID", "in": "path", "required": true, "type": "integer"}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/ws": {
            "get": {
                "summary": "Websocket game channel",
                "parameters": [{"name": "token", "in": "query", "required": true, "type": "string"}],
                "responses": {"101": {"description": "Switching Protocols"}, "401": {"description": "Unauthorized"}}
            }
        }
    },
    "definitions": {
        "CreateTournamentInput": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "player_count": {"type": "integer", "enum": [4, 8]}
            }
        },
        "ReportResultInput": {
            "type": "object",
            "properties": {
                "winner_id": {"type": "integer"},
                "goals_player1": {"type": "integer"},
                "goals_player2": {"type": "integer"}
            }
        }
    }
}`

var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Pong Arena API",
	Description:      "Ranked matchmaking, live match relay and single-elimination tournaments.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
