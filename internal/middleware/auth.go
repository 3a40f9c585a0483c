package middleware

import (
	"net/http"
	"strings"

	"github.com/eduvault/backend/internal/utils"
	"github.com/gin-gonic/gin"
)

// Context keys set by AuthMiddleware
const (
	ContextStudentID = "student_id"
	ContextIsAdmin   = "is_admin"
)

// AuthMiddleware verifies JWT tokens and adds the student to the context.
// An empty secret disables authentication.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		tokenString := extractToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token required", "code": "Unauthorized"})
			return
		}

		claims, err := utils.ValidateToken(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token", "code": "Unauthorized"})
			return
		}

		c.Set(ContextStudentID, claims.StudentID)
		c.Set(ContextIsAdmin, claims.IsAdmin)
		c.Next()
	}
}

// StudentParamMiddleware only lets a student reach routes whose `param`
// names them. Administrators may reach any student.
func StudentParamMiddleware(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		studentID, authenticated := c.Get(ContextStudentID)
		if !authenticated {
			c.Next()
			return
		}
		if c.GetBool(ContextIsAdmin) || studentID == c.Param(param) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token does not belong to this student", "code": "Forbidden"})
	}
}

// extractToken gets the token from the Authorization header
func extractToken(c *gin.Context) string {
	parts := strings.Fields(c.GetHeader("Authorization"))
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}
