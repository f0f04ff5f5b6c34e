// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package editor

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the /v1/editor/* endpoints.
//
// Endpoints:
//
//	GET    /v1/editor/service/:serviceType - Dispatch a service call
//	POST   /v1/editor/service/:serviceType - Dispatch a service call (form body)
//	GET    /v1/editor/diagnostics - Diagnostics websocket
//	DELETE /v1/editor/session - End the session
//	GET    /v1/editor/health - Liveness
//	GET    /v1/editor/ready - Readiness
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	ed := rg.Group("/editor")
	{
		ed.GET("/service/:serviceType", handlers.HandleService)
		ed.POST("/service/:serviceType", handlers.HandleService)
		ed.GET("/diagnostics", handlers.HandleDiagnostics)
		ed.DELETE("/session", handlers.HandleEndSession)
		ed.GET("/health", handlers.HandleHealth)
		ed.GET("/ready", handlers.HandleReady)
	}
}
