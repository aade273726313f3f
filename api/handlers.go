package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Andrey79999/kanban/domain"
)

const maxTaskBodyBytes = 1 << 20

// clientIDHeader names the header mutating clients send so their own
// change is not echoed back over their event stream.
const clientIDHeader = "X-Client-ID"

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, board Board, hub Streamer, logger *log.Logger) {
	e.GET("/api/tasks", listTasks(board, logger))
	e.POST("/api/tasks", createTask(board))
	e.GET("/api/tasks/:id", getTask(board))
	e.PATCH("/api/tasks/:id", updateTask(board))
	e.PUT("/api/tasks/:id/status", changeStatus(board))
	e.DELETE("/api/tasks/:id", deleteTask(board))

	e.POST("/api/tasks/:id/files", uploadAttachment(board))
	e.GET("/api/tasks/:id/files", listAttachments(board))
	e.GET("/api/files/:id", getAttachment(board))
	e.GET("/api/files/:id/download", downloadAttachment(board))
	e.GET("/api/files/:id/url", attachmentURL(board))
	e.DELETE("/api/files/:id", deleteAttachment(board))

	e.GET("/api/events", streamEvents(hub, logger))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func clientID(c echo.Context) string {
	if id := c.Request().Header.Get(clientIDHeader); id != "" {
		return id
	}
	return c.QueryParam("client_id")
}

func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, maxTaskBodyBytes)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeError maps domain failures onto the HTTP surface. Unclassified
// errors are logged server-side and reported opaquely.
func writeError(c echo.Context, err error) error {
	switch {
	case domain.IsValidation(err):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, domain.ErrDuplicateClient):
		return c.JSON(http.StatusConflict, errorResponse{Error: "client id already connected"})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func listTasks(board Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newTaskRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		statusFilter := strings.TrimSpace(c.QueryParam("status"))
		metrics.SetStatusFilter(statusFilter)

		offset, parseErr := intParam(c, "offset", 0)
		if parseErr != nil {
			metrics.SetErrorStage("invalid_offset")
			err = c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid offset"})
			return err
		}
		limit, parseErr := intParam(c, "limit", 0)
		if parseErr != nil {
			metrics.SetErrorStage("invalid_limit")
			err = c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return err
		}

		fetchStart := time.Now()
		tasks, total, fetchErr := board.ListTasks(ctx, statusFilter, offset, limit)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			if domain.IsValidation(fetchErr) {
				metrics.SetErrorStage("invalid_filter")
			} else {
				metrics.SetErrorStage("storage")
			}
			err = writeError(c, fetchErr)
			return err
		}
		metrics.SetTasksReturned(len(tasks))
		if tasks == nil {
			tasks = []domain.Task{}
		}

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, listTasksResponse{Tasks: tasks, Total: total})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func intParam(c echo.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("invalid " + name)
	}
	return v, nil
}

func createTask(board Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		task, err := board.CreateTask(c.Request().Context(), clientID(c), domain.TaskInput{
			Title:       req.Title,
			Description: req.Description,
			Status:      req.Status,
		})
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, task)
	}
}

func getTask(board Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		task, err := board.GetTask(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func updateTask(board Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req updateTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		task, err := board.UpdateTask(c.Request().Context(), clientID(c), c.Param("id"), domain.TaskPatch{
			Title:       req.Title,
			Description: req.Description,
			Status:      req.Status,
		})
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func changeStatus(board Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req changeStatusRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		task, err := board.ChangeStatus(c.Request().Context(), clientID(c), c.Param("id"), req.Status)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(board Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := board.DeleteTask(c.Request().Context(), clientID(c), c.Param("id")); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func uploadAttachment(board Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "missing file"})
		}
		src, err := fileHeader.Open()
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "unreadable file"})
		}
		defer src.Close()
		content, err := io.ReadAll(src)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "unreadable file"})
		}

		attachment, err := board.Attach(c.Request().Context(), c.Param("id"), domain.AttachmentInput{
			Filename:    fileHeader.Filename,
			ContentType: fileHeader.Header.Get(echo.HeaderContentType),
			SizeBytes:   int64(len(content)),
			UploadedBy:  clientID(c),
		}, content)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, attachment)
	}
}

func listAttachments(board Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		attachments, err := board.ListAttachments(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		if attachments == nil {
			attachments = []domain.Attachment{}
		}
		return c.JSON(http.StatusOK, attachments)
	}
}

func getAttachment(board Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		attachment, err := board.GetAttachment(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, attachment)
	}
}

func downloadAttachment(board Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		data, attachment, err := board.DownloadAttachment(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+attachment.Filename+`"`)
		return c.Blob(http.StatusOK, attachment.ContentType, data)
	}
}

func attachmentURL(board Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		url, err := board.AttachmentDownloadURL(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, downloadURLResponse{URL: url})
	}
}

func deleteAttachment(board Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := board.Detach(c.Request().Context(), c.Param("id")); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
