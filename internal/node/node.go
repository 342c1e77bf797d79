package node

import "github.com/gin-gonic/gin"

// Node is anything that exposes an admin router.
type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
}
