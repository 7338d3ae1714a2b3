package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Chronos Calendar API",
        "description": "Calendar subsystem: events, recurrence, scheduling, free/busy",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Events", "description": "Event lifecycle, series splits, folder moves, organizer handover"},
        {"name": "FreeBusy", "description": "Per-attendee busy timelines"},
        {"name": "Import", "description": "iCalendar ingestion"},
        {"name": "Export", "description": "Downloadable agenda files"}
    ],
    "paths": {
        "/events": {
            "post": {
                "tags": ["Events"],
                "summary": "Create an event",
                "responses": {"201": {"description": "Created"}}
            }
        },
        "/events/{id}": {
            "get": {
                "tags": ["Events"],
                "summary": "Fetch one event in the caller's view",
                "responses": {"200": {"description": "OK"}}
            },
            "patch": {
                "tags": ["Events"],
                "summary": "Patch an event or one occurrence",
                "responses": {"200": {"description": "OK"}}
            },
            "delete": {
                "tags": ["Events"],
                "summary": "Delete an event, a series, or one occurrence",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/events/{id}/split": {
            "post": {
                "tags": ["Events"],
                "summary": "Split a recurring series at a point in time",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/events/{id}/move": {
            "post": {
                "tags": ["Events"],
                "summary": "Move a single event into another folder",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/events/{id}/organizer": {
            "post": {
                "tags": ["Events"],
                "summary": "Hand a group-scheduled event over to another attendee",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/folders/{folderId}/events": {
            "get": {
                "tags": ["Events"],
                "summary": "List a folder's events within a window",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/folders/{folderId}/tombstones": {
            "get": {
                "tags": ["Events"],
                "summary": "List deleted events for incremental sync",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/folders/{folderId}/import": {
            "post": {
                "tags": ["Import"],
                "summary": "Import an iCalendar payload into a folder",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/freebusy": {
            "post": {
                "tags": ["FreeBusy"],
                "summary": "Query busy intervals per attendee",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/export/agenda": {
            "post": {
                "tags": ["Export"],
                "summary": "Render a folder agenda into a downloadable file",
                "responses": {"201": {"description": "Created"}}
            }
        }
    },
    "definitions": {
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "warnings": {"type": "array", "items": {"type": "object"}},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
