package surface

// Format is a wl_shm pixel format code. ARGB8888 and XRGB8888 use the
// protocol's short codes, everything else is a DRM fourcc.
type Format uint32

const (
	FormatARGB8888 Format = 0
	FormatXRGB8888 Format = 1
	FormatABGR8888 Format = 0x34324241 // 'AB24'
	FormatXBGR8888 Format = 0x34324258 // 'XB24'
	FormatRGB565   Format = 0x36314752 // 'RG16'
)

// Supported reports whether the render engine can import the format.
func (f Format) Supported() bool {
	switch f {
	case FormatARGB8888, FormatXRGB8888, FormatABGR8888, FormatXBGR8888:
		return true
	}
	return false
}

// Opaque reports whether the alpha byte must be ignored.
func (f Format) Opaque() bool {
	return f == FormatXRGB8888 || f == FormatXBGR8888
}

// SupportedFormats lists the formats advertised through wl_shm.
func SupportedFormats() []Format {
	return []Format{FormatARGB8888, FormatXRGB8888, FormatABGR8888, FormatXBGR8888}
}

// Buffer is a committed copy of a client buffer.
type Buffer struct {
	Format Format
	Width  int
	Height int
	Stride int
	Pixels []byte
}

// Transform is a wl_output.transform value.
type Transform int32

const (
	TransformNormal Transform = iota
	Transform90
	Transform180
	Transform270
	TransformFlipped
	TransformFlipped90
	TransformFlipped180
	TransformFlipped270
)

// Valid reports whether t is a known transform.
func (t Transform) Valid() bool {
	return t >= TransformNormal && t <= TransformFlipped270
}

// SwapsAxes reports whether the transform rotates by 90 or 270 degrees.
func (t Transform) SwapsAxes() bool {
	return t&1 == 1
}
