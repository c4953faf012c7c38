package extract

// The DDS header sits 0xC0 bytes into the primary payload. What the bytes
// in front of it hold is not known.
const (
	textureHeaderOffset = 0xC0
	textureHeaderSize   = 0x94
)

// reconstructTexture joins the DDS header with the pixel data. The pixels
// come from the stream sidecar when the asset has stream data and from the
// GPU sidecar otherwise, never from both.
func reconstructTexture(j *Job) ([]Output, error) {
	h := j.Header
	header, err := j.Payloads.Primary(h.DataOffset+textureHeaderOffset, textureHeaderSize)
	if err != nil {
		return nil, err
	}

	var body []byte
	if h.StreamSize != 0 {
		body, err = j.Payloads.Stream(uint64(h.StreamOffset), h.StreamSize)
	} else {
		body, err = j.Payloads.GPU(h.GPUOffset, h.GPUSize)
	}
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, len(header)+len(body))
	data = append(data, header...)
	data = append(data, body...)
	return []Output{{Data: data}}, nil
}
