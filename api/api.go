/*
Copyright 2025 Rotaflow Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/rotaflow/rotaflow"
	"github.com/rotaflow/rotaflow/api/middleware"
	"github.com/rotaflow/rotaflow/config"
)

type Api struct {
	rotaflow *rotaflow.Rotaflow
	router   *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/jobs", a.CreateJob)
	router.GET("/jobs/:id", a.GetJob)
	router.PUT("/jobs/:id/status", a.UpdateJobStatus)
	router.POST("/jobs/:id/invoice", a.IssueInvoice)
	router.POST("/jobs/:id/confirm-payment", a.ConfirmPayment)

	router.GET("/margin/:service_id", a.GetRequiredBalance)

	return a.router
}

func NewAPI(r *rotaflow.Rotaflow) (*Api, error) {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	router := gin.Default()
	router.Use(otelgin.Middleware("rotaflow"))
	router.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		router.Use(middleware.SecretKeyAuthMiddleware())
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{rotaflow: r, router: router}, nil
}
