package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *HTTPServer) handleListChats(c *gin.Context) {
	chats, err := s.service.ListChats(c.Request.Context(), sessionFrom(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, presentChats(chats))
}

func (s *HTTPServer) handleCreateChat(c *gin.Context) {
	var body struct {
		ParticipantIDs []string `json:"participantIds"`
		ParticipantID  string   `json:"participantId"`
	}
	if !decodeBody(c, &body) {
		return
	}
	ids := body.ParticipantIDs
	if body.ParticipantID != "" {
		ids = append(ids, body.ParticipantID)
	}
	chat, created, err := s.service.CreateOrGetChat(c.Request.Context(), sessionFrom(c), ids)
	if err != nil {
		s.fail(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, presentChat(chat))
}

func (s *HTTPServer) handleListMessages(c *gin.Context) {
	messages, err := s.service.ListMessages(c.Request.Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, presentMessages(messages))
}

func (s *HTTPServer) handlePostMessage(c *gin.Context) {
	var body struct {
		Content     string `json:"content"`
		MessageType string `json:"messageType"`
	}
	if !decodeBody(c, &body) {
		return
	}
	message, err := s.service.PostMessage(c.Request.Context(), sessionFrom(c), c.Param("id"), body.Content, body.MessageType)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, presentMessage(message))
}

func (s *HTTPServer) handleMarkRead(c *gin.Context) {
	count, err := s.service.MarkRead(c.Request.Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": count})
}

func (s *HTTPServer) handleMarkMessageRead(c *gin.Context) {
	if err := s.service.MarkMessageRead(c.Request.Context(), sessionFrom(c), c.Param("id"), c.Param("messageId")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Marked as read"})
}
