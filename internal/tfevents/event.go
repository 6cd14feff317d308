package tfevents

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ScalarsPlugin is the plugin name tagging tensor-encoded scalar summaries.
const ScalarsPlugin = "scalars"

// Event is the subset of tensorflow.Event used by run loading.
type Event struct {
	WallTime    float64
	Step        int64
	FileVersion string
	Summary     *Summary
}

// Summary holds the values logged at one step.
type Summary struct {
	Values []SummaryValue
}

// SummaryValue is one tagged entry of a Summary. Exactly one of
// SimpleValue or Tensor is normally set.
type SummaryValue struct {
	Tag string
	// SimpleValue is the legacy scalar field; nil when absent.
	SimpleValue *float32
	// PluginName comes from metadata.plugin_data.plugin_name.
	PluginName string
	Tensor     *Tensor
}

// Scalar returns the scalar carried by v. Legacy simple values are always
// accepted; tensor values only when tagged by the scalars plugin.
func (v SummaryValue) Scalar() (float64, bool) {
	if v.SimpleValue != nil {
		return float64(*v.SimpleValue), true
	}
	if v.PluginName == ScalarsPlugin && v.Tensor != nil {
		return v.Tensor.Scalar()
	}
	return 0, false
}

// Proto field numbers (tensorflow/core/util/event.proto, summary.proto).
const (
	eventWallTime    = 1
	eventStep        = 2
	eventFileVersion = 3
	eventSummary     = 5

	summaryValue = 1

	valueTag         = 1
	valueSimpleValue = 2
	valueTensor      = 8
	valueMetadata    = 9

	metadataPluginData = 1
	pluginDataName     = 1
)

// UnmarshalEvent decodes a serialized Event. Fields it does not model are
// skipped.
func UnmarshalEvent(b []byte) (*Event, error) {
	e := &Event{}
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == eventWallTime && typ == protowire.Fixed64Type:
			x, _ := protowire.ConsumeFixed64(v)
			e.WallTime = math.Float64frombits(x)
		case num == eventStep && typ == protowire.VarintType:
			x, _ := protowire.ConsumeVarint(v)
			e.Step = int64(x)
		case num == eventFileVersion && typ == protowire.BytesType:
			s, _ := protowire.ConsumeBytes(v)
			e.FileVersion = string(s)
		case num == eventSummary && typ == protowire.BytesType:
			s, _ := protowire.ConsumeBytes(v)
			sum, err := unmarshalSummary(s)
			if err != nil {
				return fmt.Errorf("summary: %w", err)
			}
			e.Summary = sum
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func unmarshalSummary(b []byte) (*Summary, error) {
	s := &Summary{}
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != summaryValue || typ != protowire.BytesType {
			return nil
		}
		raw, _ := protowire.ConsumeBytes(v)
		val, err := unmarshalValue(raw)
		if err != nil {
			return fmt.Errorf("value: %w", err)
		}
		s.Values = append(s.Values, val)
		return nil
	})
	return s, err
}

func unmarshalValue(b []byte) (SummaryValue, error) {
	var out SummaryValue
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == valueTag && typ == protowire.BytesType:
			s, _ := protowire.ConsumeBytes(v)
			out.Tag = string(s)
		case num == valueSimpleValue && typ == protowire.Fixed32Type:
			x, _ := protowire.ConsumeFixed32(v)
			f := math.Float32frombits(x)
			out.SimpleValue = &f
		case num == valueMetadata && typ == protowire.BytesType:
			s, _ := protowire.ConsumeBytes(v)
			name, err := pluginName(s)
			if err != nil {
				return fmt.Errorf("metadata: %w", err)
			}
			out.PluginName = name
		case num == valueTensor && typ == protowire.BytesType:
			s, _ := protowire.ConsumeBytes(v)
			t, err := unmarshalTensor(s)
			if err != nil {
				return fmt.Errorf("tensor: %w", err)
			}
			out.Tensor = t
		}
		return nil
	})
	return out, err
}

func pluginName(metadata []byte) (string, error) {
	var name string
	err := eachField(metadata, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != metadataPluginData || typ != protowire.BytesType {
			return nil
		}
		pd, _ := protowire.ConsumeBytes(v)
		return eachField(pd, func(num protowire.Number, typ protowire.Type, v []byte) error {
			if num == pluginDataName && typ == protowire.BytesType {
				s, _ := protowire.ConsumeBytes(v)
				name = string(s)
			}
			return nil
		})
	})
	return name, err
}

// eachField calls fn with the raw value bytes (tag stripped) of every field
// in the message b.
func eachField(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return protowire.ParseError(m)
		}
		if err := fn(num, typ, b[:m]); err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

// Marshal serializes the event.
func (e *Event) Marshal() []byte {
	var b []byte
	if e.WallTime != 0 {
		b = protowire.AppendTag(b, eventWallTime, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(e.WallTime))
	}
	if e.Step != 0 {
		b = protowire.AppendTag(b, eventStep, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Step))
	}
	if e.FileVersion != "" {
		b = protowire.AppendTag(b, eventFileVersion, protowire.BytesType)
		b = protowire.AppendString(b, e.FileVersion)
	}
	if e.Summary != nil {
		b = protowire.AppendTag(b, eventSummary, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Summary.marshal())
	}
	return b
}

func (s *Summary) marshal() []byte {
	var b []byte
	for _, v := range s.Values {
		b = protowire.AppendTag(b, summaryValue, protowire.BytesType)
		b = protowire.AppendBytes(b, v.marshal())
	}
	return b
}

func (v SummaryValue) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, valueTag, protowire.BytesType)
	b = protowire.AppendString(b, v.Tag)
	if v.SimpleValue != nil {
		b = protowire.AppendTag(b, valueSimpleValue, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(*v.SimpleValue))
	}
	if v.PluginName != "" {
		var pd []byte
		pd = protowire.AppendTag(pd, pluginDataName, protowire.BytesType)
		pd = protowire.AppendString(pd, v.PluginName)
		var md []byte
		md = protowire.AppendTag(md, metadataPluginData, protowire.BytesType)
		md = protowire.AppendBytes(md, pd)
		b = protowire.AppendTag(b, valueMetadata, protowire.BytesType)
		b = protowire.AppendBytes(b, md)
	}
	if v.Tensor != nil {
		b = protowire.AppendTag(b, valueTensor, protowire.BytesType)
		b = protowire.AppendBytes(b, v.Tensor.marshal())
	}
	return b
}

// ScalarEvent builds an event carrying legacy simple values.
func ScalarEvent(step int64, values map[string]float32) *Event {
	s := &Summary{}
	for _, tag := range sortedKeys(values) {
		f := values[tag]
		s.Values = append(s.Values, SummaryValue{Tag: tag, SimpleValue: &f})
	}
	return &Event{Step: step, Summary: s}
}

// TensorScalarEvent builds an event carrying scalars-plugin tensors with a
// float64 tensor_content payload, as written by TF2 summary writers.
func TensorScalarEvent(step int64, values map[string]float64) *Event {
	s := &Summary{}
	for _, tag := range sortedKeys(values) {
		s.Values = append(s.Values, SummaryValue{
			Tag:        tag,
			PluginName: ScalarsPlugin,
			Tensor:     DoubleTensor(values[tag]),
		})
	}
	return &Event{Step: step, Summary: s}
}
