package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"Go2NetQoS/internal/engine/impl/ml"
	"Go2NetQoS/internal/model"
)

func main() {
	outputFile := flag.String("o", "models/traffic_classifier.bundle", "Output bundle path")
	onnxFile := flag.String("onnx", "", "Package this ONNX graph instead of the reference tree ensemble")
	input := flag.String("input", "input", "ONNX input tensor name")
	output := flag.String("output", "probabilities", "ONNX output tensor name")
	labels := flag.String("labels", "", "Comma-separated class labels in model output order (ONNX only)")
	features := flag.String("features", "", "Comma-separated feature names in model input order (ONNX only, default: full schema)")
	flag.Parse()

	b := ml.ReferenceBundle()
	if *onnxFile != "" {
		graph, err := os.ReadFile(*onnxFile)
		if err != nil {
			log.Fatalf("Failed to read ONNX graph: %v", err)
		}
		if *labels == "" {
			log.Fatalf("-labels is required with -onnx")
		}
		names := model.FeatureNames()
		if *features != "" {
			names = strings.Split(*features, ",")
		}
		b = &ml.Bundle{
			FeatureNames: names,
			Labels:       strings.Split(*labels, ","),
			Kind:         ml.ScorerONNX,
			ONNX:         &ml.ONNXGraph{Model: graph, Input: *input, Output: *output},
		}
	}

	if err := ml.SaveBundle(*outputFile, b); err != nil {
		log.Fatalf("Failed to write bundle: %v", err)
	}
	log.Printf("Wrote %s bundle with %d features and %d labels to %s.", b.Kind, len(b.FeatureNames), len(b.Labels), *outputFile)
}
