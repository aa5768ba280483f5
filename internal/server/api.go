package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/livetemplate/lessonview"
	"github.com/livetemplate/lessonview/internal/dispatch"
)

// defaultPageLimit is the default pagination limit when none is specified
const defaultPageLimit = 100

// LessonSummary is the list representation of a lesson.
type LessonSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Path        string `json:"path"`
	File        string `json:"file"`
	Sections    int    `json:"sections"`
	Items       int    `json:"items"`
}

// BlockSummary describes one dispatched block of a lesson.
type BlockSummary struct {
	ID        string              `json:"id"`
	Section   string              `json:"section"`
	Type      lessonview.ItemType `json:"type"`
	Component string              `json:"component,omitempty"`
	Known     bool                `json:"known"`
}

func summarize(r *Route) LessonSummary {
	items := 0
	for _, sec := range r.Lesson.Sections {
		items += len(sec.Items)
	}
	return LessonSummary{
		ID:          r.Lesson.ID,
		Title:       r.Lesson.Title,
		Description: r.Lesson.Description,
		Path:        r.Pattern,
		File:        r.FilePath,
		Sections:    len(r.Lesson.Sections),
		Items:       items,
	}
}

// handleListLessons lists discovered lessons.
// Query parameters: q (case-insensitive title/id filter), offset, limit.
func (s *Server) handleListLessons(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))

	data := make([]LessonSummary, 0)
	for _, route := range s.Routes() {
		sum := summarize(route)
		if q != "" && !strings.Contains(strings.ToLower(sum.Title), q) && !strings.Contains(strings.ToLower(sum.ID), q) {
			continue
		}
		data = append(data, sum)
	}

	// Apply pagination with default limit to prevent unbounded results
	limit := parseIntParam(r, "limit", defaultPageLimit)
	offset := parseIntParam(r, "offset", 0)

	totalCount := len(data)
	data = paginate(data, offset, limit)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   data,
		"count":  len(data),
		"total":  totalCount,
		"offset": offset,
		"limit":  limit,
	})
}

// handleGetLesson returns the full lesson document.
func (s *Server) handleGetLesson(w http.ResponseWriter, r *http.Request) {
	route, ok := s.LessonByID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "lesson not found: "+chi.URLParam(r, "id"))
		return
	}
	writeJSON(w, http.StatusOK, route.Lesson)
}

// handleLessonBlocks lists the block ids the live channel accepts actions
// for, in document order.
func (s *Server) handleLessonBlocks(w http.ResponseWriter, r *http.Request) {
	route, ok := s.LessonByID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "lesson not found: "+chi.URLParam(r, "id"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": Blocks(route.Lesson),
	})
}

// Blocks lists the blocks a lesson mounts into.
func Blocks(lesson *lessonview.Lesson) []BlockSummary {
	var out []BlockSummary
	for _, sec := range lesson.Sections {
		for i, item := range sec.Items {
			out = append(out, BlockSummary{
				ID:        dispatch.BlockID(sec.ID, i),
				Section:   sec.ID,
				Type:      item.Type,
				Component: item.Component,
				Known:     item.Type.Known(),
			})
		}
	}
	return out
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] Error encoding JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		log.Printf("[API] Error encoding error response: %v", err)
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[API] Error encoding message: %v", err)
		return nil
	}
	return data
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

// paginate applies offset and limit to data.
func paginate[T any](data []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(data) {
		return []T{}
	}

	data = data[offset:]

	if limit > 0 && limit < len(data) {
		data = data[:limit]
	}

	return data
}
