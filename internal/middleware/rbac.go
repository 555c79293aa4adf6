package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// RequirePermission checks that the admin JWT carries at least one of perms.
func RequirePermission(perms ...model.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, response.ErrTokenRequired)
			return
		}

		for _, p := range perms {
			if claims.Can(p) {
				c.Next()
				return
			}
		}

		response.AbortFail(c, response.ErrPermissionDenied)
	}
}
