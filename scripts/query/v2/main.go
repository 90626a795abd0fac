package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"sort"
	"time"

	"Go2NetQoS/internal/api"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	serverAddr := flag.String("addr", "localhost:50051", "The gRPC server address")
	mode := flag.String("mode", "stats", "Query mode: 'stats' or 'decide'")
	frameHex := flag.String("frame", "", "Hex-encoded Ethernet frame for decide mode")
	inPort := flag.Uint("in-port", 1, "Switch port the frame arrived on")
	classifier := flag.String("classifier", "", "Classifier mode for decide ('rule' or 'model'); default is the engine's")
	flag.Parse()

	conn, err := grpc.NewClient(*serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("did not connect: %v", err)
	}
	defer conn.Close()

	client := api.NewClassifierClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	switch *mode {
	case "stats":
		doStats(ctx, client)
	case "decide":
		if *frameHex == "" {
			log.Fatal("Error: -frame flag is required for decide mode")
		}
		doDecide(ctx, client, *frameHex, uint32(*inPort), *classifier)
	default:
		log.Fatalf("Unknown mode: %s. Use 'stats' or 'decide'", *mode)
	}
}

func doStats(ctx context.Context, client *api.ClassifierClient) {
	resp, err := client.Stats(ctx)
	if err != nil {
		log.Fatalf("could not query stats: %v", err)
	}
	fields := resp.GetFields()

	log.Println("---", "Engine Stats", "---")
	fmt.Printf("Mode: %s\n", fields["mode"].GetStringValue())
	for _, name := range []string{"processed", "dropped", "errors", "tracked_flows"} {
		fmt.Printf("  %-14s %.0f\n", name, fields[name].GetNumberValue())
	}
	printCounts("By class", fields["by_class"].GetStructValue())
	printCounts("By method", fields["by_method"].GetStructValue())
}

func printCounts(title string, s *structpb.Struct) {
	if s == nil || len(s.GetFields()) == 0 {
		return
	}
	names := make([]string, 0, len(s.GetFields()))
	for name := range s.GetFields() {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Printf("%s:\n", title)
	for _, name := range names {
		fmt.Printf("  %-18s %.0f\n", name, s.GetFields()[name].GetNumberValue())
	}
}

func doDecide(ctx context.Context, client *api.ClassifierClient, frameHex string, inPort uint32, classifier string) {
	frame, err := hex.DecodeString(frameHex)
	if err != nil {
		log.Fatalf("invalid -frame: %v", err)
	}
	in, err := structpb.NewStruct(map[string]any{
		"frame":     base64.StdEncoding.EncodeToString(frame),
		"in_port":   inPort,
		"mode":      classifier,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		log.Fatalf("could not build request: %v", err)
	}

	resp, err := client.Decide(ctx, in)
	if err != nil {
		log.Fatalf("could not classify frame: %v", err)
	}
	f := resp.GetFields()
	log.Println("---", "Decision", "---")
	fmt.Printf("Flow: %s\n", f["flow_key"].GetStringValue())
	fmt.Printf("  Mode: %s\n", f["mode"].GetStringValue())
	fmt.Printf("  Class: %s (%s, confidence %.3f)\n", f["class"].GetStringValue(), f["method"].GetStringValue(), f["confidence"].GetNumberValue())
	fmt.Printf("  Priority: %.0f\n", f["priority"].GetNumberValue())
}
