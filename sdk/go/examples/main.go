package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"DrawSight/pkg/plugin"
	"DrawSight/sdk/go/drawsight"
)

// 该示例提交一个异步预测任务并等待结果。
func main() {
	baseURL := os.Getenv("DRAWSIGHT_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	client, err := drawsight.NewClient(baseURL, nil)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	plugins, err := client.ListPlugins(ctx, drawsight.PluginFilter{LotteryType: "lotto645"})
	if err != nil {
		log.Fatalf("list plugins: %v", err)
	}
	for _, p := range plugins {
		fmt.Printf("%-20s %-18s loaded=%v\n", p.Metadata.ID, p.Metadata.Category, p.Loaded)
	}

	params := plugin.DefaultParameters()
	params.PredictionCount = 5
	job, err := client.SubmitJob(ctx, drawsight.PredictionRequest{
		PluginID:    "weighted_frequency",
		LotteryType: "lotto645",
		Parameters:  &params,
	})
	if err != nil {
		log.Fatalf("submit job: %v", err)
	}
	job, err = client.WaitForJob(ctx, job.ID, time.Second)
	if err != nil {
		log.Fatalf("wait job: %v", err)
	}
	if job.Result == nil {
		log.Fatalf("job %s failed: %s", job.ID, job.LastError)
	}
	for i, p := range job.Result.Predictions {
		fmt.Printf("#%d %v confidence=%.2f\n", i+1, p.Numbers, p.Confidence)
	}
}
