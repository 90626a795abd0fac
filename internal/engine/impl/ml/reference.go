package ml

import (
	"math"

	"Go2NetQoS/internal/model"
)

// Inputs of the reference ensemble, in bundle order.
var referenceFeatures = []model.Feature{
	model.FeatureDstPort,
	model.FeatureSrcPort,
	model.FeatureAvgPacketSize,
	model.FeaturePacketRate,
	model.FeatureIPProto,
}

const (
	refDstPort = iota
	refSrcPort
	refAvgSize
	refPacketRate
	refProto
)

// band is a tree adding value to its class when lo <= x[feature] < hi.
func band(feature int, lo, hi, value float64) Tree {
	return Tree{Nodes: []Node{
		{Feature: feature, Threshold: lo, Left: 1, Right: 2},
		{Left: -1},
		{Feature: feature, Threshold: hi, Left: 3, Right: 4},
		{Left: -1, Value: value},
		{Left: -1},
	}}
}

// ReferenceBundle returns a small hand-built tree ensemble that scores the
// well-known ports and packet-size profiles. It stands in for a trained
// model in development setups and exercises the complete model path.
func ReferenceBundle() *Bundle {
	type classTrees struct {
		label string
		trees []Tree
	}
	classes := []classTrees{
		{string(model.ClassDNS), []Tree{band(refDstPort, 53, 54, 6), band(refSrcPort, 53, 54, 6)}},
		{string(model.ClassBrowsing), []Tree{
			band(refDstPort, 80, 81, 5), band(refDstPort, 443, 444, 5),
			band(refSrcPort, 80, 81, 5), band(refSrcPort, 443, 444, 5),
		}},
		{string(model.ClassSSH), []Tree{band(refDstPort, 22, 23, 5), band(refSrcPort, 22, 23, 5)}},
		{string(model.ClassEmail), []Tree{band(refDstPort, 25, 26, 5), band(refDstPort, 587, 588, 5), band(refDstPort, 993, 994, 5)}},
		{string(model.ClassVOIP), []Tree{band(refDstPort, 16384, 32769, 3), band(refAvgSize, 100, 300, 2)}},
		{string(model.ClassGaming), []Tree{band(refDstPort, 27015, 27031, 5)}},
		{string(model.ClassVideoStreaming), []Tree{band(refAvgSize, 1000, 1300, 3), band(refPacketRate, 100, math.MaxFloat64, 1)}},
		{string(model.ClassFileTransfer), []Tree{band(refAvgSize, 1300, math.MaxFloat64, 4)}},
		{string(model.ClassChat), []Tree{band(refAvgSize, 1, 70, 3)}},
		{string(model.ClassICMP), []Tree{band(refProto, 1, 2, 6), band(refProto, 58, 59, 6)}},
	}

	ensemble := &TreeEnsemble{NumClasses: len(classes)}
	labels := make([]string, len(classes))
	for i, c := range classes {
		labels[i] = c.label
		for _, t := range c.trees {
			ensemble.Trees = append(ensemble.Trees, t)
			ensemble.TreeClass = append(ensemble.TreeClass, i)
		}
	}

	names := make([]string, len(referenceFeatures))
	for i, f := range referenceFeatures {
		names[i] = f.String()
	}
	return &Bundle{
		Format:       BundleFormat,
		Version:      BundleVersion,
		FeatureNames: names,
		Labels:       labels,
		Kind:         ScorerTrees,
		Trees:        ensemble,
	}
}
