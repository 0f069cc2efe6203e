package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/studyroom/studyroom/internal/domain"
	"github.com/studyroom/studyroom/internal/records"
	"github.com/studyroom/studyroom/internal/store"
)

type recordHandlers struct {
	store *store.Store
}

func (h *recordHandlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func clientToken(c *gin.Context) string {
	return c.GetString(clientTokenKey)
}

func roomIDParam(c *gin.Context) (domain.RoomID, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid room id"})
		return 0, false
	}
	return domain.RoomID(id), true
}

func (h *recordHandlers) fail(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
}

// ---- Rooms ----

func (h *recordHandlers) listRooms(c *gin.Context) {
	rooms, err := h.store.ListRooms()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

func (h *recordHandlers) createRoom(c *gin.Context) {
	var req records.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body"})
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Title == "" || req.Subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "title and subject are required"})
		return
	}
	room, err := h.store.CreateRoom(req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *recordHandlers) getRoom(c *gin.Context) {
	id, ok := roomIDParam(c)
	if !ok {
		return
	}
	room, err := h.store.GetRoom(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *recordHandlers) deleteRoom(c *gin.Context) {
	id, ok := roomIDParam(c)
	if !ok {
		return
	}
	if err := h.store.DeleteRoom(id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---- Pomodoros & coins ----

func (h *recordHandlers) createPomodoro(c *gin.Context) {
	id, ok := roomIDParam(c)
	if !ok {
		return
	}
	var req records.CreatePomodoroRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body"})
		return
	}
	if req.DurationMinutes <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "durationMinutes must be positive"})
		return
	}
	if req.Result != records.ResultSuccess && req.Result != records.ResultAborted {
		c.JSON(http.StatusBadRequest, gin.H{"message": "result must be SUCCESS or ABORTED"})
		return
	}

	p, err := h.store.CreatePomodoro(id, clientToken(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *recordHandlers) listPomodoros(c *gin.Context) {
	id, ok := roomIDParam(c)
	if !ok {
		return
	}
	list, err := h.store.ListPomodoros(id, 20)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *recordHandlers) getCoins(c *gin.Context) {
	id, ok := roomIDParam(c)
	if !ok {
		return
	}
	coins, err := h.store.GetCoins(id, clientToken(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, coins)
}

// ---- Notes ----

func (h *recordHandlers) listNotes(c *gin.Context) {
	notes, err := h.store.ListNotes(clientToken(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, notes)
}

func (h *recordHandlers) createNote(c *gin.Context) {
	var n records.Note
	if err := c.ShouldBindJSON(&n); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body"})
		return
	}
	if strings.TrimSpace(n.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "title is required"})
		return
	}
	out, err := h.store.CreateNote(clientToken(c), n)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *recordHandlers) updateNote(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid note id"})
		return
	}
	var n records.Note
	if err := c.ShouldBindJSON(&n); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body"})
		return
	}
	n.ID = id
	out, err := h.store.UpdateNote(clientToken(c), n)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *recordHandlers) deleteNote(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid note id"})
		return
	}
	if err := h.store.DeleteNote(clientToken(c), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
