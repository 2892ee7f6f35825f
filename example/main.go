package main

import (
	"context"
	"fmt"
	"log"

	"github.com/osmc/speedtest-osmc/speedtest"
)

func main() {
	ctx := context.Background()
	client := speedtest.New()

	// Use a virtual location instead of the one speedtest.net reports.
	// loc, _ := speedtest.LookupLocation("tokyo")
	// client = speedtest.New(speedtest.WithLocation(loc))

	candidates, err := client.ClosestServers(ctx, 5)
	checkError(err)

	// Please make sure your host can access the candidates,
	// otherwise every probe is penalized.
	best, err := client.SelectBestServer(ctx, candidates, nil)
	checkError(err)
	fmt.Printf("Selected %s", best)

	result, err := client.Meter().DownloadSequential(ctx, best, client.Config())
	checkError(err)

	reporter := speedtest.NewReporter(speedtest.DefaultReportEvery, speedtest.UnitTypeDecimalBits, func(p speedtest.Progress) {
		fmt.Printf("\rworker %d: %s", p.Worker, p)
	})
	concurrent, err := client.Meter().DownloadConcurrent(ctx, best, client.Config(), reporter)
	checkError(err)

	fmt.Printf("\nLatency: %.3f ms, Download: %s, Concurrent: %s\n", *best.Latency, result.Rate(), concurrent.Rate())
}

func checkError(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
