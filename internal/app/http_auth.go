package app

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *HTTPServer) handleLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Remember bool   `json:"remember"`
	}
	if !decodeBody(c, &body) {
		return
	}
	if strings.TrimSpace(body.Username) == "" || body.Password == "" {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Username and password are required", nil)
		return
	}
	sess, user, err := s.service.Login(c.Request.Context(), body.Username, body.Password, body.Remember)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.setSessionCookie(c, sess)
	c.JSON(http.StatusOK, gin.H{
		"user":      presentUser(user),
		"token":     sess.Token,
		"expiresAt": formatTime(sess.ExpiresAt),
	})
}

func (s *HTTPServer) handleLogout(c *gin.Context) {
	if err := s.service.Logout(c.Request.Context(), sessionFrom(c)); err != nil {
		s.fail(c, err)
		return
	}
	s.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (s *HTTPServer) handleMe(c *gin.Context) {
	user, err := s.service.Me(c.Request.Context(), sessionFrom(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, presentUser(user))
}

// handleProfile accepts multipart (with an optional avatar) or JSON.
func (s *HTTPServer) handleProfile(c *gin.Context) {
	var in ProfileInput
	var avatar *Upload

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		s.limitBody(c)
		if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
			s.failMultipart(c, err)
			return
		}
		in.FullName = formValue(c, "fullName")
		in.Email = formValue(c, "email")
		in.Username = formValue(c, "username")
		in.CurrentPassword = c.PostForm("currentPassword")
		in.NewPassword = c.PostForm("newPassword")

		header, err := c.FormFile("avatar")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			s.failMultipart(c, err)
			return
		default:
			upload, closeFn, err := openUpload(header)
			if err != nil {
				s.fail(c, err)
				return
			}
			defer closeFn()
			avatar = &upload
		}
	} else {
		var body struct {
			FullName        *string `json:"fullName"`
			Email           *string `json:"email"`
			Username        *string `json:"username"`
			CurrentPassword string  `json:"currentPassword"`
			NewPassword     string  `json:"newPassword"`
		}
		if !decodeBody(c, &body) {
			return
		}
		in = ProfileInput{
			FullName:        body.FullName,
			Email:           body.Email,
			Username:        body.Username,
			CurrentPassword: body.CurrentPassword,
			NewPassword:     body.NewPassword,
		}
	}

	user, err := s.service.UpdateProfile(c.Request.Context(), sessionFrom(c), in, avatar)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Profile updated", "user": presentUser(user)})
}

func (s *HTTPServer) handleChangePassword(c *gin.Context) {
	var body struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decodeBody(c, &body) {
		return
	}
	if body.CurrentPassword == "" || body.NewPassword == "" {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Current and new password are required", nil)
		return
	}
	if err := s.service.ChangePassword(c.Request.Context(), sessionFrom(c), body.CurrentPassword, body.NewPassword); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password changed"})
}

func (s *HTTPServer) handleRoles(c *gin.Context) {
	roles, err := s.service.ListAvailableRoles(c.Request.Context(), sessionFrom(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, roles)
}

func presentProvision(result ProvisionResult) gin.H {
	response := gin.H{"user": presentUser(result.User), "delivered": result.Delivered}
	if result.GeneratedPassword != "" {
		response["generatedPassword"] = result.GeneratedPassword
	}
	return response
}

func (s *HTTPServer) handleRegister(c *gin.Context) {
	var body ProvisionInput
	if !decodeBody(c, &body) {
		return
	}
	result, err := s.service.ProvisionUser(c.Request.Context(), sessionFrom(c), body)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, presentProvision(result))
}

func (s *HTTPServer) handleListUsers(c *gin.Context) {
	users, err := s.service.ListUsers(c.Request.Context(), sessionFrom(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, presentUsers(users))
}

func (s *HTTPServer) handleUpdateUser(c *gin.Context) {
	var patch UserPatch
	if !decodeBody(c, &patch) {
		return
	}
	user, err := s.service.UpdateUser(c.Request.Context(), sessionFrom(c), c.Param("id"), patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User updated", "user": presentUser(user)})
}

func (s *HTTPServer) handleDeleteUser(c *gin.Context) {
	if err := s.service.DeleteUser(c.Request.Context(), sessionFrom(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User deleted"})
}

func (s *HTTPServer) handleResetPassword(c *gin.Context) {
	result, err := s.service.ResetUserPassword(c.Request.Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, presentProvision(result))
}

func (s *HTTPServer) handleAvatar(c *gin.Context) {
	user, rc, err := s.service.OpenAvatar(c.Request.Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	defer rc.Close()
	c.Header("Cache-Control", "private, max-age=300")
	c.DataFromReader(http.StatusOK, -1, contentTypeFor(user.AvatarPath), rc, nil)
}

func (s *HTTPServer) handleOnlineUsers(c *gin.Context) {
	statuses, err := s.service.ListOnlineUsers(c.Request.Context(), sessionFrom(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, presentOnline(statuses))
}

// formValue returns nil for fields absent from the form.
func formValue(c *gin.Context, key string) *string {
	value, ok := c.GetPostForm(key)
	if !ok {
		return nil
	}
	return &value
}

func openUpload(header *multipart.FileHeader) (Upload, func(), error) {
	f, err := header.Open()
	if err != nil {
		return Upload{}, nil, err
	}
	return Upload{
		Filename:    header.Filename,
		Reader:      f,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
	}, func() { _ = f.Close() }, nil
}

func (s *HTTPServer) failMultipart(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.fail(c, err)
		return
	}
	writeError(c, http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
}
