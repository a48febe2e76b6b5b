// Package docs registers the OpenAPI description served at /swagger.
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
    "paths": {
        "/chats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Chats"],
                "summary": "List chats (paginated)",
                "operationId": "listChats",
                "parameters": [
                    {"type": "string", "name": "If-None-Match", "in": "header"},
                    {"type": "integer", "default": 1, "minimum": 1, "name": "page", "in": "query"},
                    {"type": "integer", "default": 20, "maximum": 100, "minimum": 1, "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListChatsResponse"}},
                    "304": {"description": "Not Modified"}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Chats"],
                "summary": "Create a new chat",
                "operationId": "createChat",
                "parameters": [
                    {"name": "body", "in": "body", "schema": {"$ref": "#/definitions/handlers.CreateChatRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Chat"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chats/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Chats"],
                "summary": "Fetch a chat",
                "operationId": "getChat",
                "parameters": [{"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Chat"}},
                    "404": {"description": "Chat not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chats/{id}/title": {
            "put": {
                "consumes": ["application/json"],
                "tags": ["Chats"],
                "summary": "Rename a chat",
                "operationId": "updateChatTitle",
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.UpdateChatTitleRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Chat not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chats/{id}/messages": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "List messages in a chat",
                "operationId": "listMessages",
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "default": 50, "maximum": 200, "minimum": 1, "name": "limit", "in": "query"},
                    {"type": "integer", "default": 0, "minimum": 0, "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.MessagePage"}},
                    "304": {"description": "Not Modified"},
                    "404": {"description": "Chat not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "Append a message",
                "operationId": "appendMessage",
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/domain.MessageDraft"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.MessageResponse"}},
                    "409": {"description": "Message id already exists", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chats/{id}/messages/{mid}": {
            "patch": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "Update a message",
                "operationId": "patchMessage",
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true},
                    {"type": "string", "format": "uuid", "name": "mid", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/domain.MessagePatch"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.MessageResponse"}},
                    "404": {"description": "Message not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chats/{id}/messages/{mid}/regenerate": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["text/event-stream"],
                "tags": ["Turns"],
                "summary": "Regenerate an assistant message",
                "operationId": "regenerateMessage",
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true},
                    {"type": "string", "format": "uuid", "name": "mid", "in": "path", "required": true},
                    {"name": "body", "in": "body", "schema": {"$ref": "#/definitions/handlers.RegenerateRequest"}}
                ],
                "responses": {
                    "200": {"description": "Event stream", "schema": {"$ref": "#/definitions/services.TurnEvent"}},
                    "409": {"description": "Turn in progress", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/middleware.RateLimitedResponse"}}
                }
            }
        },
        "/chats/{id}/turns": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["text/event-stream"],
                "tags": ["Turns"],
                "summary": "Send a message and stream the reply",
                "operationId": "postTurn",
                "parameters": [
                    {"type": "string", "name": "Idempotency-Key", "in": "header"},
                    {"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.PostTurnRequest"}}
                ],
                "responses": {
                    "200": {"description": "Event stream", "schema": {"$ref": "#/definitions/services.TurnEvent"}},
                    "409": {"description": "Turn in progress", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/middleware.RateLimitedResponse"}}
                }
            }
        },
        "/chats/{id}/turns/current": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Turns"],
                "summary": "Active turn state",
                "operationId": "turnStatus",
                "parameters": [{"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.TurnStatusResponse"}}}
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["Turns"],
                "summary": "Stop the active turn",
                "operationId": "stopTurn",
                "parameters": [{"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.TurnStatusResponse"}}}
            }
        },
        "/chats/{id}/ws": {
            "get": {
                "tags": ["Turns"],
                "summary": "Observe a chat over websocket",
                "operationId": "watchChat",
                "parameters": [{"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true}],
                "responses": {"101": {"description": "Switching Protocols", "schema": {"$ref": "#/definitions/handlers.WatchFrame"}}}
            }
        }
    },
    "definitions": {
        "domain.Chat": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "user_id": {"type": "string"},
                "title": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "domain.Message": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "chat_id": {"type": "string"},
                "role": {"type": "string", "enum": ["user", "assistant"]},
                "content": {"type": "string"},
                "model": {"type": "string"},
                "stats": {"type": "object"},
                "generated_images": {"type": "array", "items": {"type": "object"}},
                "attachments": {"type": "array", "items": {"type": "object"}},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "domain.MessageDraft": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "role": {"type": "string"},
                "content": {"type": "string"},
                "model": {"type": "string"},
                "created_at": {"type": "string"},
                "attachments": {"type": "array", "items": {"type": "object"}}
            }
        },
        "domain.MessagePatch": {
            "type": "object",
            "properties": {
                "content": {"type": "string"},
                "model": {"type": "string"},
                "stats": {"type": "object"},
                "generated_images": {"type": "array", "items": {"type": "object"}}
            }
        },
        "handlers.CreateChatRequest": {"type": "object", "properties": {"title": {"type": "string"}}},
        "handlers.UpdateChatTitleRequest": {"type": "object", "required": ["title"], "properties": {"title": {"type": "string"}}},
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {"request_id": {"type": "string"}, "code": {"type": "string"}, "message": {"type": "string"}}
        },
        "handlers.ListChatsResponse": {
            "type": "object",
            "properties": {
                "chats": {"type": "array", "items": {"$ref": "#/definitions/domain.Chat"}},
                "pagination": {"type": "object"}
            }
        },
        "handlers.MessageResponse": {"type": "object", "properties": {"message": {"$ref": "#/definitions/domain.Message"}}},
        "handlers.PostTurnRequest": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "content": {"type": "string"},
                "created_at": {"type": "string"},
                "attachments": {"type": "array", "items": {"type": "object"}},
                "model": {"type": "string"}
            }
        },
        "handlers.RegenerateRequest": {"type": "object", "properties": {"model": {"type": "string"}}},
        "handlers.TurnStatusResponse": {
            "type": "object",
            "properties": {
                "in_progress": {"type": "boolean"},
                "state": {"type": "string"},
                "message_id": {"type": "string"},
                "stopped": {"type": "boolean"}
            }
        },
        "handlers.WatchFrame": {
            "type": "object",
            "properties": {
                "event": {"type": "string"},
                "message": {"$ref": "#/definitions/domain.Message"},
                "streaming": {"type": "boolean"},
                "messages": {"type": "array", "items": {"$ref": "#/definitions/domain.Message"}}
            }
        },
        "middleware.RateLimitedResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "message": {"type": "string"},
                "retryAfter": {"type": "integer"},
                "request_id": {"type": "string"}
            }
        },
        "services.MessagePage": {
            "type": "object",
            "properties": {
                "messages": {"type": "array", "items": {"$ref": "#/definitions/domain.Message"}},
                "has_more": {"type": "boolean"},
                "total": {"type": "integer"},
                "limit": {"type": "integer"},
                "offset": {"type": "integer"}
            }
        },
        "services.TurnEvent": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "enum": ["user_message", "placeholder", "delta", "committed", "failed"]},
                "message_id": {"type": "string"},
                "content": {"type": "string"},
                "message": {"$ref": "#/definitions/domain.Message"},
                "error": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "go-chat-stream API",
	Description:      "Chats with streamed assistant turns, idempotent retries and live observers.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
