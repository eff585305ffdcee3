package web

import (
	"errors"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/coliblanco/voicebridge/pkg/artifact"
	"github.com/coliblanco/voicebridge/pkg/chat"
	"github.com/coliblanco/voicebridge/pkg/tts"
)

// handleHealth reports liveness.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"sessions":  s.registry.Len(),
	})
}

// handleTranscribe accepts a multipart "audio" file and returns the
// transcript.
func (s *Server) handleTranscribe(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("audio")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "audio file required",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unreadable audio file",
		})
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil || len(audio) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "empty audio file",
		})
	}

	language := c.FormValue("language", s.language)
	result, err := s.stt.Transcribe(c.Context(), audio, language)
	if err != nil {
		s.logger.Error("transcription failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "transcription failed",
		})
	}

	return c.JSON(fiber.Map{
		"text":     result.Text,
		"language": result.Language,
	})
}

// ttsRequest is the /api/tts body.
type ttsRequest struct {
	Text string `json:"text"`
}

// handleTTS synthesizes text and returns the artifact URL.
func (s *Server) handleTTS(c *fiber.Ctx) error {
	var req ttsRequest
	if err := c.BodyParser(&req); err != nil || req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "text required",
		})
	}

	audio, err := s.tts.Synthesize(c.Context(), req.Text)
	if err != nil {
		if errors.Is(err, tts.ErrEmptyText) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "text required",
			})
		}
		s.logger.Error("synthesis failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "synthesis failed",
		})
	}

	id, err := s.store.Save(audio.Audio)
	if err != nil {
		s.logger.Error("artifact save failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "audio storage failed",
		})
	}

	return c.JSON(fiber.Map{
		"audio_url": "/audio/" + id,
	})
}

// chatRequest is the /api/chat body.
type chatRequest struct {
	Messages []chat.Message `json:"messages"`
}

// handleChat runs a completion over the posted history.
func (s *Server) handleChat(c *fiber.Ctx) error {
	var req chatRequest
	if err := c.BodyParser(&req); err != nil || len(req.Messages) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "messages required",
		})
	}

	reply, err := s.chat.Complete(c.Context(), req.Messages)
	if err != nil {
		s.logger.Error("completion failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "completion failed",
		})
	}

	return c.JSON(fiber.Map{
		"response": reply,
	})
}

// handleAudio serves a stored artifact.
func (s *Server) handleAudio(c *fiber.Ctx) error {
	data, err := s.store.Load(c.Params("name"))
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) || errors.Is(err, artifact.ErrInvalidID) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "not found",
			})
		}
		s.logger.Error("artifact load failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "audio load failed",
		})
	}

	c.Set(fiber.HeaderContentType, "audio/mpeg")
	return c.Send(data)
}
