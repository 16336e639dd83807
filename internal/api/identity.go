package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	customerKey = "customer_id"
	staffHeader = "X-Staff-Role"
	staffAdmin  = "admin"
)

// customerFromHeader reads the identity set by the upstream auth layer
func customerFromHeader(c *gin.Context) (int64, bool) {
	raw := strings.TrimSpace(c.GetHeader(customerHeader))
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// requireCustomer rejects requests without a customer identity
func requireCustomer() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := customerFromHeader(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.Set(customerKey, id)
		c.Next()
	}
}

// requireStaff admits only requests the upstream auth layer marked as admin
func requireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.EqualFold(strings.TrimSpace(c.GetHeader(staffHeader)), staffAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Staff access required"})
			return
		}
		c.Next()
	}
}
