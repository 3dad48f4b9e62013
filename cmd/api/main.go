package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"csa-margin-engine/pkg/api/calculations"
	"csa-margin-engine/pkg/api/documents"
	"csa-margin-engine/pkg/api/exportsapi"
	"csa-margin-engine/pkg/api/jobsapi"
	"csa-margin-engine/pkg/api/server"
	"csa-margin-engine/pkg/core/agent"
	"csa-margin-engine/pkg/core/config"
	"csa-margin-engine/pkg/core/docai"
	"csa-margin-engine/pkg/core/jobs"
	"csa-margin-engine/pkg/core/normalize"
	"csa-margin-engine/pkg/core/pipeline"
	"csa-margin-engine/pkg/core/script"
	"csa-margin-engine/pkg/core/store"
)

func main() {
	godotenv.Load()

	settings, err := config.Load("config/engine.yaml")
	if err != nil {
		fmt.Printf("[FATAL] failed to load config/engine.yaml: %v\n", err)
		os.Exit(1)
	}
	agent.ConfigureConcurrency(settings.MaxConcurrentLLMCalls)

	agentMgr := agent.NewManager(settings.Agents)

	artifactStore, err := store.New(settings.ArtifactRootDir)
	if err != nil {
		fmt.Printf("[FATAL] failed to open artifact store at %s: %v\n", settings.ArtifactRootDir, err)
		os.Exit(1)
	}

	jobManager := jobs.New(artifactStore)
	docaiClient := docai.NewClient()
	normalizer := normalize.NewOrchestrator(agentMgr, normalize.Config{
		AutoBatchThreshold: settings.AutoBatchThreshold,
		ParallelBatchSize:  settings.ParallelBatchSize,
	})
	orchestrator := pipeline.New(artifactStore, jobManager, docaiClient, normalizer)

	explanationGen := script.NewExplanationGenerator(agentMgr)
	auditScriptGen := script.NewAuditScriptGenerator(agentMgr)

	handlers := server.Handlers{
		Documents:    documents.NewHandlers(artifactStore, jobManager, orchestrator, settings.MaxUploadSize),
		Jobs:         jobsapi.NewHandlers(jobManager),
		Calculations: calculations.NewHandlers(artifactStore, explanationGen, auditScriptGen),
		Exports:      exportsapi.NewHandlers(artifactStore),
	}

	port := 8080
	if v := os.Getenv("PORT"); v != "" {
		fmt.Sscanf(v, "%d", &port)
	}
	srv := server.New(port, handlers)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("[FATAL] server failed: %v\n", err)
			os.Exit(1)
		}
	}()

	fmt.Printf("CSA margin engine API listening on :%d\n", port)
	fmt.Println("  - POST /api/documents/upload")
	fmt.Println("  - POST /api/documents/process/{document_id}")
	fmt.Println("  - GET  /api/jobs/{job_id}")
	fmt.Println("  - DELETE /api/jobs/{job_id}")
	fmt.Println("  - POST /api/calculations/calculate")
	fmt.Println("  - POST /api/calculations/{calc_id}/explain")
	fmt.Println("  - POST /api/calculations/{calc_id}/audit-script")
	fmt.Println("  - GET  /api/export/margin-call-notice/{calc_id}")
	fmt.Println("  - GET  /api/export/audit-trail/{calc_id}")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Printf("[ERROR] graceful shutdown failed: %v\n", err)
	}
}
