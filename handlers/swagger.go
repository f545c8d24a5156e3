package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers the Swagger UI page and the OpenAPI document.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg gin.IRouter) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>sessionguard API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// OpenAPI document for the session endpoints.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "sessionguard", "version": "v1.0.0" },
  "components": {
    "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer", "bearerFormat": "JWT" } },
    "schemas": {
      "Tokens": { "type": "object", "properties": { "accessToken": {"type":"string"}, "refreshToken": {"type":"string"}, "expiresIn": {"type":"integer"} } },
      "Error": { "type": "object", "properties": { "success": {"type":"boolean"}, "message": {"type":"string"}, "errorCode": {"type":"string"} } }
    }
  },
  "paths": {
    "/auth/signup": {
      "post": {
        "summary": "Register an account",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","required":["email","password"],"properties":{"email":{"type":"string"},"password":{"type":"string"}}}}}},
        "responses": { "201": { "description": "created" }, "400": { "description": "invalid email or weak password" }, "409": { "description": "email taken" }, "429": { "description": "rate limited" } }
      }
    },
    "/auth/login": {
      "post": {
        "summary": "Verify credentials and open a session for the device",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","required":["email","password"],"properties":{"email":{"type":"string"},"password":{"type":"string"},"deviceId":{"type":"string"}}}}}},
        "responses": { "200": { "description": "tokens returned", "content": { "application/json": { "schema": { "$ref": "#/components/schemas/Tokens" } } } }, "401": { "description": "AUTHENTICATION_FAILED" }, "409": { "description": "SESSION_CONFLICT, retry" }, "429": { "description": "TOO_MANY_REQUESTS" } }
      }
    },
    "/auth/refresh": {
      "post": {
        "summary": "Rotate a refresh token",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","required":["refreshToken"],"properties":{"refreshToken":{"type":"string"},"deviceId":{"type":"string"},"userAgent":{"type":"string"}}}}}},
        "responses": { "200": { "description": "new token pair", "content": { "application/json": { "schema": { "$ref": "#/components/schemas/Tokens" } } } }, "401": { "description": "INVALID_REFRESH_TOKEN or REFRESH_TOKEN_EXPIRED", "content": { "application/json": { "schema": { "$ref": "#/components/schemas/Error" } } } } }
      }
    },
    "/auth/logout": {
      "post": {
        "summary": "Revoke the refresh session, or all sessions with allDevices",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","required":["refreshToken"],"properties":{"refreshToken":{"type":"string"},"allDevices":{"type":"boolean"}}}}}},
        "responses": { "200": { "description": "logged out" } }
      }
    },
    "/auth/sessions": {
      "get": { "summary": "List active sessions", "security": [ { "bearer": [] } ], "responses": { "200": { "description": "sessions" }, "401": { "description": "UNAUTHORIZED" } } }
    },
    "/auth/sessions/revoke-device": {
      "post": {
        "summary": "Revoke every session bound to a device",
        "security": [ { "bearer": [] } ],
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","required":["deviceId"],"properties":{"deviceId":{"type":"string"}}}}}},
        "responses": { "200": { "description": "revoked count" }, "401": { "description": "UNAUTHORIZED" } }
      }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "responses": { "200": { "description": "text exposition" } } } }
  }
}`
