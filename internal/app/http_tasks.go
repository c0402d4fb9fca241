package app

import (
	"errors"
	"mime"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
)

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (s *HTTPServer) handleListTasks(c *gin.Context) {
	tasks, err := s.service.ListTasks(c.Request.Context(), sessionFrom(c), TaskListQuery{
		Status:    c.Query("status"),
		ProjectID: c.Query("projectId"),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, presentTasks(tasks))
}

func (s *HTTPServer) handleCreateTask(c *gin.Context) {
	var in TaskInput
	if !decodeBody(c, &in) {
		return
	}
	task, err := s.service.CreateTask(c.Request.Context(), sessionFrom(c), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, presentTask(task))
}

func (s *HTTPServer) handleGetTask(c *gin.Context) {
	task, err := s.service.GetTask(c.Request.Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, presentTask(task))
}

func (s *HTTPServer) handleUpdateTask(c *gin.Context) {
	var patch TaskPatch
	if !decodeBody(c, &patch) {
		return
	}
	task, err := s.service.UpdateTask(c.Request.Context(), sessionFrom(c), c.Param("id"), patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, presentTask(task))
}

func (s *HTTPServer) handleArchiveTask(c *gin.Context) {
	task, err := s.service.ArchiveTask(c.Request.Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, presentTask(task))
}

func (s *HTTPServer) handleDeleteTask(c *gin.Context) {
	report, err := s.service.DeleteTask(c.Request.Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task deleted", "report": report})
}

func (s *HTTPServer) handleListFiles(c *gin.Context) {
	files, err := s.service.ListTaskFiles(c.Request.Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, presentFiles(files))
}

func (s *HTTPServer) handleUploadFile(c *gin.Context) {
	s.limitBody(c)
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		s.failMultipart(c, err)
		return
	}
	var upload Upload
	header, err := c.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		s.failMultipart(c, err)
		return
	default:
		var closeFn func()
		upload, closeFn, err = openUpload(header)
		if err != nil {
			s.fail(c, err)
			return
		}
		defer closeFn()
	}

	file, err := s.service.UploadFile(c.Request.Context(), sessionFrom(c), c.Param("id"), upload, c.PostForm("fileType"), c.PostForm("description"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, presentFile(file))
}

func (s *HTTPServer) handleDownloadFile(c *gin.Context) {
	file, rc, err := s.service.DownloadFile(c.Request.Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	defer rc.Close()
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": file.OriginalFilename})
	if disposition == "" {
		disposition = "attachment"
	}
	c.DataFromReader(http.StatusOK, -1, file.MimeType, rc, map[string]string{
		"Content-Disposition":    disposition,
		"X-Content-Type-Options": "nosniff",
	})
}

func (s *HTTPServer) handleDeleteFile(c *gin.Context) {
	if err := s.service.DeleteFile(c.Request.Context(), sessionFrom(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "File deleted"})
}

func (s *HTTPServer) handleListProjects(c *gin.Context) {
	projects, err := s.service.ListProjects(c.Request.Context(), sessionFrom(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, presentProjects(projects))
}

func (s *HTTPServer) handleCreateProject(c *gin.Context) {
	var in ProjectInput
	if !decodeBody(c, &in) {
		return
	}
	project, err := s.service.CreateProject(c.Request.Context(), sessionFrom(c), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, presentProject(project))
}

func (s *HTTPServer) handleGetProject(c *gin.Context) {
	project, err := s.service.GetProject(c.Request.Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, presentProject(project))
}

func (s *HTTPServer) handleUpdateProject(c *gin.Context) {
	var patch ProjectPatch
	if !decodeBody(c, &patch) {
		return
	}
	project, err := s.service.UpdateProject(c.Request.Context(), sessionFrom(c), c.Param("id"), patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, presentProject(project))
}

func (s *HTTPServer) handleDeleteProject(c *gin.Context) {
	report, err := s.service.DeleteProject(c.Request.Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Project deleted", "report": report})
}

func (s *HTTPServer) handleStats(c *gin.Context) {
	stats, err := s.service.GetStats(c.Request.Context(), sessionFrom(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *HTTPServer) handleSearch(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		s.fail(c, err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		s.fail(c, err)
		return
	}
	response, err := s.service.Search(c.Request.Context(), sessionFrom(c), c.Query("q"), c.Query("type"), limit, offset)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (s *HTTPServer) handleAdminEntities(c *gin.Context) {
	entities, err := s.service.ListAdminEntities(c.Request.Context(), sessionFrom(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entities)
}

func (s *HTTPServer) handleAdminQuery(c *gin.Context) {
	rows, err := s.service.QueryAdminEntity(c.Request.Context(), sessionFrom(c), c.Param("entity"), c.Request.URL.Query())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entity": c.Param("entity"), "rows": rows})
}
