package extract

import "github.com/pkg/errors"

// extractGeneric copies the raw payload ranges of an asset, one output per
// non-empty source. Only primary reads apply the type table adjustment.
func extractGeneric(j *Job) ([]Output, error) {
	h := j.Header
	var out []Output

	if h.DataSize != 0 {
		data, err := j.Payloads.Primary(h.DataOffset+uint64(j.Adjust), h.DataSize)
		if err != nil {
			return nil, err
		}
		out = append(out, Output{Suffix: "bundle", Data: data})
	}
	if h.StreamSize != 0 {
		data, err := j.Payloads.Stream(uint64(h.StreamOffset), h.StreamSize)
		if err != nil {
			return nil, err
		}
		out = append(out, Output{Suffix: "stream", Data: data})
	}
	if h.GPUSize != 0 {
		data, err := j.Payloads.GPU(h.GPUOffset, h.GPUSize)
		if err != nil {
			return nil, err
		}
		out = append(out, Output{Suffix: "gpu", Data: data})
	}
	if len(out) == 0 {
		return nil, errors.New("asset has no payload")
	}
	return out, nil
}
