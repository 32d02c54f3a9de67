package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"voicegrade/internal/aggregate"
	"voicegrade/internal/api"
	"voicegrade/internal/evalerr"
	"voicegrade/internal/evaluation"
	"voicegrade/internal/logging"
)

// StatusForKind maps an error kind to its HTTP status.
func StatusForKind(kind evalerr.Kind) int {
	switch kind {
	case evalerr.KindNotFound:
		return http.StatusNotFound
	case evalerr.KindValidation:
		return http.StatusBadRequest
	case evalerr.KindInvalidTransition, evalerr.KindConflict, evalerr.KindConcurrencyConflict:
		return http.StatusConflict
	case evalerr.KindPersistence, evalerr.KindTransientIO:
		return http.StatusServiceUnavailable
	case evalerr.KindCredential:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	resp := api.NewErrorResponse(err)
	status := StatusForKind(resp.Kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("api operation failed",
			logging.String(logging.FieldEventType, "api_operation_failed"),
			logging.String("path", c.FullPath()),
			logging.String("kind", string(resp.Kind)),
			logging.Error(err),
		)
	}
	if resp.Kind == evalerr.KindInternal {
		resp.Error = "internal error"
	}
	c.JSON(status, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleList(c *gin.Context) {
	filter, err := s.parseFilter(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	list, err := s.backend.ListRecords(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) parseFilter(c *gin.Context) (aggregate.Filter, error) {
	const op = "list records"
	filter := aggregate.Filter{
		Evaluator: c.Query("evaluator"),
		Query:     c.Query("q"),
		Limit:     s.opts.DefaultPageSize,
	}
	if raw := c.Query("status"); raw != "" {
		status, ok := evaluation.ParseStatus(raw)
		if !ok {
			return filter, evalerr.Wrap(evalerr.ErrValidation, op, "unknown status "+raw, nil)
		}
		filter.Status = status
	}
	if raw := c.Query("language"); raw != "" {
		lang, ok := evaluation.ParseLanguage(raw)
		if !ok {
			return filter, evalerr.Wrap(evalerr.ErrValidation, op, "unknown language "+raw, nil)
		}
		filter.Language = lang
	}
	if raw := c.Query("category"); raw != "" {
		cat, ok := evaluation.ParseCategory(raw)
		if !ok {
			return filter, evalerr.Wrap(evalerr.ErrValidation, op, "unknown category "+raw, nil)
		}
		filter.Category = cat
	}
	if raw := c.Query("approved"); raw != "" {
		approved, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, evalerr.Wrap(evalerr.ErrValidation, op, "approved must be true or false", err)
		}
		filter.Approved = &approved
	}
	for name, dst := range map[string]*int{"offset": &filter.Offset, "limit": &filter.Limit} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, evalerr.Wrap(evalerr.ErrValidation, op, name+" must be a non-negative integer", nil)
		}
		*dst = n
	}
	if filter.Limit == 0 || filter.Limit > s.opts.MaxPageSize {
		filter.Limit = s.opts.MaxPageSize
	}
	return filter, nil
}

func (s *Server) handleGet(c *gin.Context) {
	rec, err := s.backend.GetRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleCreate(c *gin.Context) {
	var req api.CreateRequest
	if !s.bind(c, &req, false) {
		return
	}
	rec, err := s.backend.Create(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req api.EvaluationRequest
	if !s.bind(c, &req, false) {
		return
	}
	rec, err := s.backend.Submit(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleRequestReview(c *gin.Context) {
	var req api.EvaluationRequest
	if !s.bind(c, &req, false) {
		return
	}
	rec, err := s.backend.RequestReview(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleApprove(c *gin.Context) {
	req, ok := s.actor(c)
	if !ok {
		return
	}
	rec, err := s.backend.Approve(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleReevaluate(c *gin.Context) {
	req, ok := s.actor(c)
	if !ok {
		return
	}
	rec, err := s.backend.Reevaluate(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleDelete(c *gin.Context) {
	req, ok := s.actor(c)
	if !ok {
		return
	}
	if err := s.backend.Delete(c.Request.Context(), c.Param("id"), req); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleHistory(c *gin.Context) {
	history, err := s.backend.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (s *Server) handleReconcile(c *gin.Context) {
	report, err := s.backend.Reconcile(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// actor reads the acting user from the JSON body or the actor query
// parameter.
func (s *Server) actor(c *gin.Context) (api.ActorRequest, bool) {
	var req api.ActorRequest
	if !s.bind(c, &req, true) {
		return req, false
	}
	if strings.TrimSpace(req.Actor) == "" {
		req.Actor = c.Query("actor")
	}
	return req, true
}

// bind decodes the JSON body into dst. An empty body is accepted when
// optional is set.
func (s *Server) bind(c *gin.Context, dst any, optional bool) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	s.writeError(c, evalerr.Wrap(evalerr.ErrValidation, "decode request", "invalid JSON body", err))
	return false
}
