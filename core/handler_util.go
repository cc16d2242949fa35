package core

import "github.com/gin-gonic/gin"

// fail hands err to the terminal error handler and stops the handler chain.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
