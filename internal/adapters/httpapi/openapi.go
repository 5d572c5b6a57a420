package httpapi

import (
	"net/http"

	"github.com/Guilhem-Bonnet/subcapture/internal/httpjson"
)

// handleOpenAPI décrit l'API v1 (document minimal, maintenu à la main).
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	jsonOK := func(schemaRef string) map[string]any {
		return map[string]any{
			"description": "OK",
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"$ref": schemaRef},
				},
			},
		}
	}
	jsonBody := func(schemaRef string) map[string]any {
		return map[string]any{
			"required": true,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"$ref": schemaRef},
				},
			},
		}
	}

	jsonErr := map[string]any{
		"description": "Error",
		"content": map[string]any{
			"application/json": map[string]any{
				"schema": map[string]any{"$ref": "#/components/schemas/Error"},
			},
		},
	}

	tabParam := map[string]any{
		"name":     "tabId",
		"in":       "path",
		"required": true,
		"schema":   map[string]any{"type": "integer", "minimum": 0},
	}
	pageQuery := map[string]any{
		"name":   "pageUrl",
		"in":     "query",
		"schema": map[string]any{"type": "string", "format": "uri"},
	}
	idParam := map[string]any{
		"name":     "id",
		"in":       "path",
		"required": true,
		"schema":   map[string]any{"type": "string"},
	}

	str := map[string]any{"type": "string"}
	boolean := map[string]any{"type": "boolean"}

	doc := map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "subcapture API",
			"version": "v1",
		},
		"components": map[string]any{
			"schemas": map[string]any{
				"OpenAPIDocument": map[string]any{
					"type":                 "object",
					"additionalProperties": true,
				},
				"Error": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"error": str,
						"code": map[string]any{
							"type": "string",
							"enum": []any{"invalid_message", "unknown_action", "empty_content", "thumbnail_track", "no_subtitle", "not_found"},
						},
					},
					"required": []any{"error"},
				},
				"Message": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"action": map[string]any{
							"type": "string",
							"enum": []any{"subtitleFound", "getStatus", "getContent", "getHistory", "getHistoryItem", "clearHistory", "removeHistoryItem", "tabUpdated", "tabRemoved", "clearCache"},
						},
						"tabId":      map[string]any{"type": "integer", "minimum": 0},
						"url":        str,
						"content":    map[string]any{"type": "string", "description": "Sous-titre canonique (WEBVTT)."},
						"pageUrl":    map[string]any{"type": "string", "format": "uri"},
						"id":         str,
						"faviconUrl": map[string]any{"type": "string", "format": "uri"},
					},
					"required": []any{"action"},
				},
				"MessageResponse": map[string]any{
					"description": "Réponse dépendant de l'action (Ack, Status, Content, History, HistoryItem).",
					"oneOf": []any{
						map[string]any{"$ref": "#/components/schemas/Ack"},
						map[string]any{"$ref": "#/components/schemas/Status"},
						map[string]any{"$ref": "#/components/schemas/Content"},
						map[string]any{"$ref": "#/components/schemas/History"},
						map[string]any{"$ref": "#/components/schemas/HistoryItemResponse"},
					},
				},
				"Ack": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"success": boolean,
						"error":   str,
					},
					"required": []any{"success"},
				},
				"Status": map[string]any{
					"type":       "object",
					"properties": map[string]any{"hasSubtitle": boolean},
					"required":   []any{"hasSubtitle"},
				},
				"Content": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"success": boolean,
						"content": str,
						"url":     str,
						"error":   str,
					},
					"required": []any{"success"},
				},
				"HistoryItem": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":         str,
						"pageUrl":    str,
						"sourceUrl":  str,
						"title":      str,
						"content":    str,
						"language":   map[string]any{"type": "string", "description": "ISO 639-1, vide si non détectée."},
						"faviconUrl": str,
						"capturedAt": map[string]any{"type": "integer", "format": "int64", "description": "ms epoch"},
					},
					"required": []any{"id", "pageUrl", "title", "capturedAt"},
				},
				"History": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"success": boolean,
						"history": map[string]any{
							"type":  "array",
							"items": map[string]any{"$ref": "#/components/schemas/HistoryItem"},
						},
					},
					"required": []any{"success", "history"},
				},
				"HistoryItemResponse": map[string]any{
					"allOf": []any{
						map[string]any{"$ref": "#/components/schemas/HistoryItem"},
						map[string]any{
							"type":       "object",
							"properties": map[string]any{"success": boolean},
						},
					},
				},
				"NavigateRequest": map[string]any{
					"type":       "object",
					"properties": map[string]any{"pageUrl": map[string]any{"type": "string", "format": "uri"}},
					"required":   []any{"pageUrl"},
				},
				"ObserveRequest": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"tabId":        map[string]any{"type": "integer", "minimum": 0},
						"pageUrl":      str,
						"url":          str,
						"responseType": map[string]any{"type": "string", "enum": []any{"text", "arraybuffer", "json"}},
						"response":     map[string]any{"description": "Texte, base64 (arraybuffer) ou valeur JSON."},
					},
					"required": []any{"url", "response"},
				},
				"ObserveResponse": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"outcome": map[string]any{
							"type": "string",
							"enum": []any{"ignored", "busy", "error", "not_text", "empty", "decoy", "captured", "dropped"},
						},
					},
					"required": []any{"outcome"},
				},
				"Settings": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"historyMaxSize":           map[string]any{"type": "integer", "minimum": 0, "maximum": 500, "description": "0 = default"},
						"maxConcurrentExtractions": map[string]any{"type": "integer", "minimum": 0, "maximum": 64, "description": "0 = default"},
					},
					"additionalProperties": false,
				},
			},
		},
		"paths": map[string]any{
			"/api/v1/health": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": map[string]any{"description": "OK"}}},
			},
			"/api/v1/version": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": map[string]any{"description": "OK"}}},
			},
			"/api/v1/openapi.json": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": jsonOK("#/components/schemas/OpenAPIDocument")}},
			},
			"/api/v1/events": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": map[string]any{"description": "SSE (subtitle.captured, subtitle.rejected, history.updated, cache.cleared, settings.updated)"}}},
			},
			"/api/v1/messages": map[string]any{
				"post": map[string]any{
					"requestBody": jsonBody("#/components/schemas/Message"),
					"responses": map[string]any{
						"200": jsonOK("#/components/schemas/MessageResponse"),
						"400": jsonErr,
						"413": jsonErr,
					},
				},
			},
			"/api/v1/tabs/{tabId}": map[string]any{
				"delete": map[string]any{
					"parameters": []any{tabParam},
					"responses": map[string]any{
						"200": jsonOK("#/components/schemas/Ack"),
						"400": jsonErr,
					},
				},
			},
			"/api/v1/tabs/{tabId}/status": map[string]any{
				"get": map[string]any{
					"parameters": []any{tabParam, pageQuery},
					"responses": map[string]any{
						"200": jsonOK("#/components/schemas/Status"),
						"400": jsonErr,
					},
				},
			},
			"/api/v1/tabs/{tabId}/content": map[string]any{
				"get": map[string]any{
					"parameters": []any{tabParam, pageQuery},
					"responses": map[string]any{
						"200": jsonOK("#/components/schemas/Content"),
						"400": jsonErr,
						"404": jsonOK("#/components/schemas/Content"),
					},
				},
			},
			"/api/v1/tabs/{tabId}/navigate": map[string]any{
				"post": map[string]any{
					"parameters":  []any{tabParam},
					"requestBody": jsonBody("#/components/schemas/NavigateRequest"),
					"responses": map[string]any{
						"200": jsonOK("#/components/schemas/Status"),
						"400": jsonErr,
					},
				},
			},
			"/api/v1/history": map[string]any{
				"get": map[string]any{
					"responses": map[string]any{"200": jsonOK("#/components/schemas/History")},
				},
				"delete": map[string]any{
					"responses": map[string]any{"200": jsonOK("#/components/schemas/Ack")},
				},
			},
			"/api/v1/history/{id}": map[string]any{
				"get": map[string]any{
					"parameters": []any{idParam},
					"responses": map[string]any{
						"200": jsonOK("#/components/schemas/HistoryItemResponse"),
						"404": jsonErr,
					},
				},
				"delete": map[string]any{
					"parameters": []any{idParam},
					"responses": map[string]any{
						"200": jsonOK("#/components/schemas/Ack"),
						"404": jsonErr,
					},
				},
			},
			"/api/v1/observe": map[string]any{
				"post": map[string]any{
					"requestBody": jsonBody("#/components/schemas/ObserveRequest"),
					"responses": map[string]any{
						"200": jsonOK("#/components/schemas/ObserveResponse"),
						"400": jsonErr,
						"413": jsonErr,
					},
				},
			},
			"/api/v1/settings": map[string]any{
				"get": map[string]any{
					"responses": map[string]any{
						"200": jsonOK("#/components/schemas/Settings"),
						"500": jsonErr,
					},
				},
				"put": map[string]any{
					"requestBody": jsonBody("#/components/schemas/Settings"),
					"responses": map[string]any{
						"200": jsonOK("#/components/schemas/Settings"),
						"400": jsonErr,
						"413": jsonErr,
						"500": jsonErr,
					},
				},
				"patch": map[string]any{
					"description": "Partial update: omitted fields keep their value.",
					"requestBody": jsonBody("#/components/schemas/Settings"),
					"responses": map[string]any{
						"200": jsonOK("#/components/schemas/Settings"),
						"400": jsonErr,
						"413": jsonErr,
						"500": jsonErr,
					},
				},
			},
			"/api/v1/settings/defaults": map[string]any{
				"get": map[string]any{
					"responses": map[string]any{"200": jsonOK("#/components/schemas/Settings")},
				},
			},
			"/metrics": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": map[string]any{"description": "Prometheus exposition"}}},
			},
		},
	}

	httpjson.Write(w, http.StatusOK, doc)
}
