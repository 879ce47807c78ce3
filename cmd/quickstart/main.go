package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"mlops-backend/cmd"
	"mlops-backend/internal/database"
	"mlops-backend/pkg/api"
	"mlops-backend/pkg/client"

	"github.com/caarlos0/env/v11"
	"github.com/schollz/progressbar/v3"
)

type QuickstartConfig struct {
	APIURL string `env:"API_URL" envDefault:"http://localhost:3001/api/v1"`
	Rows   int    `env:"ROWS" envDefault:"500"`
}

// syntheticTrips generates a taxi-fare style CSV where the fare is a noisy
// linear function of distance and passenger count.
func syntheticTrips(rows int) []byte {
	rng := rand.New(rand.NewSource(42))

	var sb strings.Builder
	sb.WriteString("distance,passengers,fare\n")
	for i := 0; i < rows; i++ {
		distance := rng.Float64() * 20
		passengers := float64(1 + rng.Intn(4))
		fare := 2.5 + 1.8*distance + 0.5*passengers + rng.NormFloat64()*0.3
		sb.WriteString(fmt.Sprintf("%.3f,%.0f,%.3f\n", distance, passengers, fare))
	}
	return []byte(sb.String())
}

func main() {
	cmd.LoadEnvFile()

	var cfg QuickstartConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	ctx := context.Background()
	c := client.New(cfg.APIURL)

	if err := c.Health(ctx); err != nil {
		log.Fatalf("backend is not reachable at %s: %v", cfg.APIURL, err)
	}

	fmt.Println("1/5 uploading dataset")

	created, err := c.CreateDataset(ctx, api.CreateDatasetRequest{
		Name:           "taxi-trips",
		TargetColumn:   "fare",
		FeatureColumns: []string{"distance", "passengers"},
	})
	if err != nil {
		log.Fatalf("failed to create dataset: %v", err)
	}

	uploaded, err := c.UploadDataset(ctx, created.DatasetId, syntheticTrips(cfg.Rows))
	if err != nil {
		log.Fatalf("failed to upload dataset: %v", err)
	}
	fmt.Printf("    dataset %s: %d rows (%d train / %d test)\n",
		created.DatasetId, uploaded.RowCount, uploaded.TrainRows, uploaded.TestRows)

	fmt.Println("2/5 training model")

	submitted, err := c.SubmitTrainingJob(ctx, api.TrainRequest{
		Name:            "taxi-fare",
		DatasetId:       created.DatasetId,
		Hyperparameters: json.RawMessage(`{"learning_rate": 0.01, "epochs": 300, "scaler": "standard"}`),
	})
	if err != nil {
		log.Fatalf("failed to submit training job: %v", err)
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("⏳ training"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	var model api.Model
	for {
		model, err = c.GetModel(ctx, submitted.ModelId)
		if err != nil {
			log.Fatalf("failed to poll model: %v", err)
		}
		if model.Status == database.ModelTrained {
			break
		}
		if model.Status == database.ModelFailed {
			log.Fatalf("training failed for model %s", submitted.ModelId)
		}
		_ = bar.Add(1)
		time.Sleep(500 * time.Millisecond)
	}
	_ = bar.Finish()
	fmt.Printf("    model %s trained, rmse=%.3f r2=%.3f\n",
		model.Id, model.Metrics["rmse"], model.Metrics["r2"])

	fmt.Println("3/5 deploying endpoint")

	endpoint, err := c.CreateEndpoint(ctx, api.CreateEndpointRequest{
		Name:           "taxi-fare-endpoint",
		CaptureEnabled: true,
		Variants:       []api.EndpointVariant{{Name: "main", ModelId: model.Id, Weight: 1}},
	})
	if err != nil {
		log.Fatalf("failed to create endpoint: %v", err)
	}
	fmt.Printf("    endpoint %s in service\n", endpoint.EndpointId)

	fmt.Println("4/5 invoking endpoint")

	for _, distance := range []float64{1, 5, 12} {
		res, err := c.Invoke(ctx, endpoint.EndpointId, api.InvokeRequest{
			Features: map[string]float64{"distance": distance, "passengers": 2},
		})
		if err != nil {
			log.Fatalf("failed to invoke endpoint: %v", err)
		}
		fmt.Printf("    distance=%.0f passengers=2 -> fare %.2f (variant %s)\n", distance, res.Prediction, res.Variant)
	}

	fmt.Println("5/5 creating drift monitor")

	monitor, err := c.CreateMonitor(ctx, api.CreateMonitorRequest{
		EndpointId:      endpoint.EndpointId,
		DatasetId:       created.DatasetId,
		IntervalSeconds: 60,
		AlertRule:       "drift > 3 AND samples >= 10",
	})
	if err != nil {
		log.Fatalf("failed to create monitor: %v", err)
	}
	fmt.Printf("    monitor %s active\n", monitor.MonitorId)

	fmt.Println("done")
}
