package priority

import (
	"math"
	"testing"

	"Go2NetQoS/internal/config"
	"Go2NetQoS/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestMapPriority_Tiers(t *testing.T) {
	m := NewMapper(config.Default().Priority)

	tests := []struct {
		class model.TrafficClass
		conf  float64
		want  int
	}{
		{model.ClassDNS, 0.9, 3450},
		{model.ClassVOIP, 1.0, 3500},
		{model.ClassBrowsing, 0.9, 2450},
		{model.ClassSSH, 0.0, 2000},
		{model.ClassFileTransfer, 0.6, 1300},
		{model.ClassTCPGeneric, 0.3, 1150},
		{model.ClassUnknown, 0.1, 1050},
		{model.TrafficClass("Carrier-Pigeon"), 0.5, 1250},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.MapPriority(tt.class, tt.conf), "%s@%v", tt.class, tt.conf)
	}
}

func TestMapPriority_ClampsConfidence(t *testing.T) {
	m := NewMapper(config.Default().Priority)

	assert.Equal(t, 3500, m.MapPriority(model.ClassDNS, 7))
	assert.Equal(t, 3000, m.MapPriority(model.ClassDNS, -3))
	assert.Equal(t, 3000, m.MapPriority(model.ClassDNS, math.NaN()))
	assert.Equal(t, 1500, m.MapPriority(model.ClassBulk, math.Inf(1)))
}

func TestMapPriority_AlwaysInRange(t *testing.T) {
	m := NewMapper(config.Default().Priority)
	classes := []model.TrafficClass{
		model.ClassDNS, model.ClassBrowsing, model.ClassSSH, model.ClassEmail, model.ClassFileTransfer,
		model.ClassVOIP, model.ClassVideoStreaming, model.ClassAudioStreaming, model.ClassChat,
		model.ClassGaming, model.ClassP2P, model.ClassBulk, model.ClassICMP, model.ClassTCPGeneric,
		model.ClassUDPGeneric, model.ClassUnknown,
	}
	for _, class := range classes {
		for conf := -0.5; conf <= 1.5; conf += 0.05 {
			p := m.MapPriority(class, conf)
			assert.GreaterOrEqual(t, p, 0)
			assert.LessOrEqual(t, p, 3500)
		}
	}
}

func TestMapPriority_CustomCeiling(t *testing.T) {
	cfg := config.Default().Priority
	cfg.Ceiling = 3200
	m := NewMapper(cfg)

	assert.Equal(t, 3200, m.MapPriority(model.ClassGaming, 0.8))
	assert.Equal(t, 2000, m.Base(model.ClassEmail))
}
