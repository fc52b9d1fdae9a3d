package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"danmuhub/models"
	"danmuhub/services/webhook"
)

// maxWebhookBody caps what a media server may post.
const maxWebhookBody = 1 << 20

// WebhookHandler is the ingress for media-server notifications. Each
// source has its own payload shape; all of them are normalized into a
// WebhookPayload before dispatch.
type WebhookHandler struct {
	Dispatcher *webhook.Dispatcher
}

// Receive is POST /api/webhook/{source}. Dispatch runs in the background;
// the media server gets an immediate 202.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSONError(w, "read body", http.StatusBadRequest)
		return
	}

	payload, err := parseBySource(source, r, raw)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if payload == nil {
		// Recognized event type we deliberately ignore (library scans,
		// playback progress and so on).
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	// The request context dies with the response; dispatch outlives it.
	go func() {
		if err := h.Dispatcher.Ingest(context.Background(), source, raw, *payload); err != nil {
			log.Printf("[webhook] %s dispatch: %v", source, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func parseBySource(source string, r *http.Request, raw []byte) (*models.WebhookPayload, error) {
	switch source {
	case "emby", "jellyfin":
		return parseEmbyStyle(raw)
	case "plex":
		return parsePlex(r, raw)
	case "media_server", "custom":
		p, err := webhook.ParsePayload(raw)
		if err != nil {
			return nil, err
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown webhook source %q", source)
	}
}

// embyEvent is the subset of Emby's and Jellyfin's notification payload
// the dispatcher needs. Jellyfin's webhook plugin emits the same shape.
type embyEvent struct {
	Event string `json:"Event"`
	Item  struct {
		Type              string `json:"Type"` // Episode | Movie
		Name              string `json:"Name"`
		SeriesName        string `json:"SeriesName"`
		ParentIndexNumber int    `json:"ParentIndexNumber"`
		IndexNumber       int    `json:"IndexNumber"`
		ProductionYear    int    `json:"ProductionYear"`
		ProviderIds       map[string]string `json:"ProviderIds"`
	} `json:"Item"`
}

func parseEmbyStyle(raw []byte) (*models.WebhookPayload, error) {
	var ev embyEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode emby payload: %w", err)
	}
	event := strings.ToLower(ev.Event)
	if !strings.Contains(event, "library.new") && !strings.Contains(event, "item.add") && !strings.Contains(event, "itemadded") {
		return nil, nil
	}

	p := models.WebhookPayload{Year: ev.Item.ProductionYear}
	switch ev.Item.Type {
	case "Movie":
		p.AnimeTitle = ev.Item.Name
		p.MediaType = string(models.MediaTypeMovie)
		p.Season = 1
		p.CurrentEpisodeIndex = 1
	case "Episode":
		p.AnimeTitle = ev.Item.SeriesName
		p.MediaType = string(models.MediaTypeTVSeries)
		p.Season = ev.Item.ParentIndexNumber
		p.CurrentEpisodeIndex = ev.Item.IndexNumber
	default:
		return nil, nil
	}
	for k, v := range ev.Item.ProviderIds {
		switch strings.ToLower(k) {
		case "tmdb":
			p.TMDBID = v
		case "imdb":
			p.IMDBID = v
		case "tvdb":
			p.TVDBID = v
		}
	}
	if p.AnimeTitle == "" {
		return nil, fmt.Errorf("emby payload missing title")
	}
	return &p, nil
}

// plexEvent is Plex's multipart webhook payload.
type plexEvent struct {
	Event    string `json:"event"`
	Metadata struct {
		Type             string `json:"type"` // episode | movie
		Title            string `json:"title"`
		GrandparentTitle string `json:"grandparentTitle"`
		ParentIndex      int    `json:"parentIndex"`
		Index            int    `json:"index"`
		Year             int    `json:"year"`
	} `json:"Metadata"`
}

// parsePlex handles Plex's multipart/form-data envelope: the JSON event
// lives in the "payload" form field.
func parsePlex(r *http.Request, raw []byte) (*models.WebhookPayload, error) {
	body := raw
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && strings.HasPrefix(mediaType, "multipart/") {
		if field, ok := multipartField(raw, params["boundary"], "payload"); ok {
			body = field
		}
	}

	var ev plexEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode plex payload: %w", err)
	}
	if ev.Event != "library.new" {
		return nil, nil
	}

	p := models.WebhookPayload{Year: ev.Metadata.Year}
	switch ev.Metadata.Type {
	case "movie":
		p.AnimeTitle = ev.Metadata.Title
		p.MediaType = string(models.MediaTypeMovie)
		p.Season = 1
		p.CurrentEpisodeIndex = 1
	case "episode":
		p.AnimeTitle = ev.Metadata.GrandparentTitle
		p.MediaType = string(models.MediaTypeTVSeries)
		p.Season = ev.Metadata.ParentIndex
		p.CurrentEpisodeIndex = ev.Metadata.Index
	default:
		return nil, nil
	}
	if p.AnimeTitle == "" {
		return nil, fmt.Errorf("plex payload missing title")
	}
	return &p, nil
}

func multipartField(raw []byte, boundary, name string) ([]byte, bool) {
	if boundary == "" {
		return nil, false
	}
	reader := multipart.NewReader(bytes.NewReader(raw), boundary)
	for {
		part, err := reader.NextPart()
		if err != nil {
			return nil, false
		}
		if part.FormName() == name {
			data, err := io.ReadAll(part)
			if err != nil {
				return nil, false
			}
			return data, true
		}
	}
}
