package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/opendt-project/opendt/internal/errs"
)

// CPUPowerModelType enumerates the supported power-model shapes (§3).
type CPUPowerModelType string

const (
	PowerModelAsymptotic CPUPowerModelType = "asymptotic"
	PowerModelLinear     CPUPowerModelType = "linear"
	PowerModelMSE        CPUPowerModelType = "mse"
	PowerModelSquare     CPUPowerModelType = "square"
	PowerModelCubic      CPUPowerModelType = "cubic"
	PowerModelSqrt       CPUPowerModelType = "sqrt"
)

type CPUPowerModel struct {
	ModelType CPUPowerModelType `json:"modelType"`
	Power     float64           `json:"power"`
	IdlePower float64           `json:"idlePower"`
	MaxPower  float64           `json:"maxPower"`
	AsymUtil  float64           `json:"asymUtil"`
	DVFS      bool              `json:"dvfs"`
}

type CPU struct {
	CoreCount    int32   `json:"coreCount"`
	CoreSpeedMHz float64 `json:"coreSpeedMHz"`
}

type Memory struct {
	MemorySizeBytes int64 `json:"memorySizeBytes"`
}

type Host struct {
	Name          string        `json:"name"`
	Count         int32         `json:"count"`
	CPU           CPU           `json:"cpu"`
	Memory        Memory        `json:"memory"`
	CPUPowerModel CPUPowerModel `json:"cpuPowerModel"`
}

type Cluster struct {
	Name  string `json:"name"`
	Hosts []Host `json:"hosts"`
}

// Topology is a tree of clusters/hosts describing simulated hardware.
type Topology struct {
	Clusters []Cluster `json:"clusters"`
}

func validModelType(t CPUPowerModelType) bool {
	switch t {
	case PowerModelAsymptotic, PowerModelLinear, PowerModelMSE,
		PowerModelSquare, PowerModelCubic, PowerModelSqrt:
		return true
	}
	return false
}

// Validate enforces the bounds in spec.md §3.
func (t Topology) Validate() error {
	for _, c := range t.Clusters {
		for _, h := range c.Hosts {
			switch {
			case h.Count < 1:
				return errs.NewEvent("host.count must be >= 1")
			case h.CPU.CoreCount < 1:
				return errs.NewEvent("cpu.coreCount must be >= 1")
			case h.CPU.CoreSpeedMHz <= 0:
				return errs.NewEvent("cpu.coreSpeedMHz must be > 0")
			case h.Memory.MemorySizeBytes <= 0:
				return errs.NewEvent("memory.memorySizeBytes must be > 0")
			case !validModelType(h.CPUPowerModel.ModelType):
				return errs.NewEvent("cpuPowerModel.modelType unrecognized")
			case h.CPUPowerModel.Power <= 0:
				return errs.NewEvent("cpuPowerModel.power must be > 0")
			case h.CPUPowerModel.IdlePower < 0:
				return errs.NewEvent("cpuPowerModel.idlePower must be >= 0")
			case h.CPUPowerModel.MaxPower <= 0:
				return errs.NewEvent("cpuPowerModel.maxPower must be > 0")
			case h.CPUPowerModel.AsymUtil < 0 || h.CPUPowerModel.AsymUtil > 1:
				return errs.NewEvent("cpuPowerModel.asymUtil must be within [0,1]")
			}
		}
	}
	return nil
}

// DeepCopy returns an independent copy of the Topology. Used before
// in-place patching by the Calibration Engine so Topology.observed is
// never mutated (spec.md §4.2, §9).
func (t Topology) DeepCopy() Topology {
	out := Topology{Clusters: make([]Cluster, len(t.Clusters))}
	for i, c := range t.Clusters {
		nc := Cluster{Name: c.Name, Hosts: make([]Host, len(c.Hosts))}
		copy(nc.Hosts, c.Hosts)
		out.Clusters[i] = nc
	}
	return out
}

// CanonicalJSON serializes v with sorted map keys and stable numeric
// formatting, as required for a stable Topology fingerprint (§3).
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

// Fingerprint returns the canonical SHA-256 fingerprint of a Topology,
// stable across serialization round trips (spec.md §3, §8).
func Fingerprint(t Topology) (string, error) {
	b, err := CanonicalJSON(t)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
