// Package docs holds the OpenAPI document served by the Swagger UI. It is
// maintained by hand in the layout swag produces and mirrors the REST handler
// annotations under the API base path. GET /socket is mounted at the root,
// outside that base path, so it is described only on its handler.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/identities": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Identities"],
                "summary": "Create an anonymous identity",
                "operationId": "createIdentity",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.CreateIdentityResponse"}},
                    "429": {"description": "Too many requests", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["Identities"],
                "summary": "Delete the caller's identity",
                "operationId": "deleteIdentity",
                "responses": {
                    "204": {"description": "No Content"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/identities/geolocation": {
            "patch": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Identities"],
                "summary": "Share coordinates",
                "operationId": "updateGeolocation",
                "parameters": [
                    {"description": "Coordinates", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.UpdateGeolocationRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.UpdateGeolocationResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/identities/{name}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Identities"],
                "summary": "Check a display name",
                "operationId": "getIdentity",
                "parameters": [
                    {"type": "string", "example": "Agile Albatross", "description": "Display name", "name": "name", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.IdentityNameResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Identity not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/nearby": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Nearby"],
                "summary": "List peers on the same network",
                "operationId": "nearbyByIP",
                "parameters": [
                    {"maximum": 200, "minimum": 1, "type": "integer", "default": 50, "description": "Max entries", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.NearbyResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/nearby/geolocation": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Nearby"],
                "summary": "List peers within the proximity radius",
                "operationId": "nearbyByGeolocation",
                "parameters": [
                    {"maximum": 200, "minimum": 1, "type": "integer", "default": 50, "description": "Max entries", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.NearbyResponse"}},
                    "400": {"description": "No geolocation shared", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/transmissions/message": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Transmissions"],
                "summary": "Offer a message to a connected identity",
                "operationId": "sendMessage",
                "parameters": [
                    {"type": "string", "description": "Replay-safe key", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Target and text (1-256 characters)", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.SendMessageRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SendResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Target not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Target not connected", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "502": {"description": "Delivery failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/transmissions/file": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["Transmissions"],
                "summary": "Offer a file to a connected identity",
                "operationId": "sendFile",
                "parameters": [
                    {"type": "string", "description": "Replay-safe key", "name": "Idempotency-Key", "in": "header"},
                    {"type": "string", "description": "Target display name", "name": "toName", "in": "formData", "required": true},
                    {"type": "file", "description": "File", "name": "fileToTransmit", "in": "formData", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SendResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Target not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Target not connected", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "413": {"description": "File too large", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "415": {"description": "Unsupported file type", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "502": {"description": "Delivery failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/transmissions/message/{uuid}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["text/plain"],
                "tags": ["Transmissions"],
                "summary": "Pull an accepted message",
                "operationId": "retrieveMessage",
                "parameters": [
                    {"type": "string", "format": "uuid", "description": "Transmission uuid", "name": "uuid", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Message text", "schema": {"type": "string"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/transmissions/file/{uuid}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/octet-stream"],
                "tags": ["Transmissions"],
                "summary": "Pull an accepted file",
                "operationId": "retrieveFile",
                "parameters": [
                    {"type": "string", "format": "uuid", "description": "Transmission uuid", "name": "uuid", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}, "headers": {"Content-Disposition": {"type": "string", "description": "attachment; filename=..."}}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.CreateIdentityResponse": {
            "type": "object",
            "properties": {
                "name": {"type": "string", "example": "Agile Albatross"},
                "uuid": {"type": "string", "example": "141add05-4415-4938-b5a1-17e0d3171aff"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "not_found"},
                "message": {"type": "string", "example": "resource not found"},
                "request_id": {"type": "string", "example": "123e4567-e89b-12d3-a456-426614174000"}
            }
        },
        "handlers.Geolocation": {
            "type": "object",
            "required": ["latitude", "longitude"],
            "properties": {
                "latitude": {"type": "number", "example": 37.9838},
                "longitude": {"type": "number", "example": 23.7275}
            }
        },
        "handlers.IdentityNameResponse": {
            "type": "object",
            "properties": {
                "name": {"type": "string", "example": "Agile Albatross"}
            }
        },
        "handlers.NearbyIdentity": {
            "type": "object",
            "properties": {
                "distance": {"type": "string", "example": "2.22 km"},
                "name": {"type": "string", "example": "Bold Lynx"}
            }
        },
        "handlers.NearbyResponse": {
            "type": "object",
            "properties": {
                "nearbyIdentities": {"type": "array", "items": {"$ref": "#/definitions/handlers.NearbyIdentity"}}
            }
        },
        "handlers.SendMessageRequest": {
            "type": "object",
            "required": ["toName"],
            "properties": {
                "message": {"type": "string", "example": "the wifi password is on the fridge"},
                "toName": {"type": "string", "example": "Bold Lynx"}
            }
        },
        "handlers.SendResponse": {
            "type": "object",
            "properties": {
                "requestUuid": {"type": "string", "example": "e1b9be03-4999-4289-9f03-999b042d65d6"}
            }
        },
        "handlers.UpdateGeolocationRequest": {
            "type": "object",
            "required": ["geolocation"],
            "properties": {
                "geolocation": {"$ref": "#/definitions/handlers.Geolocation"}
            }
        },
        "handlers.UpdateGeolocationResponse": {
            "type": "object",
            "properties": {
                "data": {"$ref": "#/definitions/handlers.Geolocation"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Identity uuid returned by POST /identities, as \"Bearer <uuid>\".",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "go-drop-backend API",
	Description:      "Anonymous nearby file and message drops negotiated over websockets.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
