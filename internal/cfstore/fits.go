package cfstore

import (
	"bytes"
	"fmt"

	"github.com/astrogo/fitsio"

	"github.com/banshee-data/awimager/internal/lattice"
	"github.com/banshee-data/awimager/internal/units"
)

// Kernels and sensitivity images are persisted as single-HDU FITS files.
// Axes follow the lattice order (x fastest). Complex kernels carry a
// trailing axis of length 2 holding the real then imaginary cube.

// EncodeImage serialises a real image as a BITPIX -32 FITS file.
func EncodeImage(img *lattice.Image[float32], extra ...fitsio.Card) ([]byte, error) {
	s := img.Shape()
	cards := append(coordinateCards(img.Coords), extra...)
	return encodeFITS(-32, []int{s.NX, s.NY, s.NPol, s.NChan}, img.Lattice.Values(), cards)
}

// DecodeImage parses a file written by EncodeImage.
func DecodeImage(raw []byte) (*lattice.Image[float32], error) {
	var out *lattice.Image[float32]
	err := decodeFITS(raw, func(hdr *fitsio.Header, im fitsio.Image) error {
		axes := hdr.Axes()
		if len(axes) != 4 {
			return fmt.Errorf("expected 4 axes, got %d", len(axes))
		}
		shape := lattice.Shape{NX: axes[0], NY: axes[1], NPol: axes[2], NChan: axes[3]}
		data := make([]float32, shape.Len())
		if err := im.Read(&data); err != nil {
			return fmt.Errorf("failed to read image data: %w", err)
		}
		l, err := lattice.FromSlice(shape, data)
		if err != nil {
			return err
		}
		coords, err := parseCoordinates(hdr)
		if err != nil {
			return err
		}
		out = &lattice.Image[float32]{Lattice: l, Coords: coords}
		return nil
	})
	return out, err
}

// EncodeCF serialises a convolution function with its metadata.
func EncodeCF(cf *CFStore) ([]byte, error) {
	if err := cf.Validate(); err != nil {
		return nil, err
	}
	s := cf.Data.Shape()
	vals := cf.Data.Values()
	data := make([]float64, 2*len(vals))
	for i, v := range vals {
		data[i] = real(v)
		data[len(vals)+i] = imag(v)
	}
	cards := coordinateCards(cf.Coords)
	cards = append(cards,
		fitsio.Card{Name: "CFPA", Value: units.RadToDeg(cf.PA), Comment: "parallactic angle [deg]"},
		fitsio.Card{Name: "SAMPLING", Value: cf.Sampling, Comment: "oversampling factor"},
	)
	for c := 0; c < s.NChan; c++ {
		cards = append(cards,
			fitsio.Card{Name: fmt.Sprintf("XSUP%04d", c+1), Value: cf.XSupport[c]},
			fitsio.Card{Name: fmt.Sprintf("YSUP%04d", c+1), Value: cf.YSupport[c]},
		)
	}
	return encodeFITS(-64, []int{s.NX, s.NY, s.NPol, s.NChan, 2}, data, cards)
}

// DecodeCF parses a file written by EncodeCF.
func DecodeCF(raw []byte) (*CFStore, error) {
	var out *CFStore
	err := decodeFITS(raw, func(hdr *fitsio.Header, im fitsio.Image) error {
		axes := hdr.Axes()
		if len(axes) != 5 || axes[4] != 2 {
			return fmt.Errorf("expected 5 axes ending in a real/imag pair, got %v", axes)
		}
		shape := lattice.Shape{NX: axes[0], NY: axes[1], NPol: axes[2], NChan: axes[3]}
		data := make([]float64, 2*shape.Len())
		if err := im.Read(&data); err != nil {
			return fmt.Errorf("failed to read kernel data: %w", err)
		}
		n := shape.Len()
		vals := make([]complex128, n)
		for i := range vals {
			vals[i] = complex(data[i], data[n+i])
		}
		l, err := lattice.FromSlice(shape, vals)
		if err != nil {
			return err
		}
		coords, err := parseCoordinates(hdr)
		if err != nil {
			return err
		}
		cf := &CFStore{Data: l, Coords: coords}
		pa, err := floatCard(hdr, "CFPA")
		if err != nil {
			return err
		}
		cf.PA = units.DegToRad(pa)
		sampling, err := floatCard(hdr, "SAMPLING")
		if err != nil {
			return err
		}
		cf.Sampling = int(sampling)
		for c := 0; c < shape.NChan; c++ {
			xs, err := floatCard(hdr, fmt.Sprintf("XSUP%04d", c+1))
			if err != nil {
				return err
			}
			ys, err := floatCard(hdr, fmt.Sprintf("YSUP%04d", c+1))
			if err != nil {
				return err
			}
			cf.XSupport = append(cf.XSupport, int(xs))
			cf.YSupport = append(cf.YSupport, int(ys))
		}
		out = cf
		return cf.Validate()
	})
	return out, err
}

func encodeFITS[T float32 | float64](bitpix int, axes []int, data []T, cards []fitsio.Card) ([]byte, error) {
	var buf bytes.Buffer
	f, err := fitsio.Create(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create fits stream: %w", err)
	}
	im := fitsio.NewImage(bitpix, axes)
	defer im.Close()
	if err := im.Header().Append(cards...); err != nil {
		return nil, fmt.Errorf("failed to append fits cards: %w", err)
	}
	if err := im.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write fits data: %w", err)
	}
	if err := f.Write(im); err != nil {
		return nil, fmt.Errorf("failed to write fits hdu: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close fits stream: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeFITS(raw []byte, fn func(*fitsio.Header, fitsio.Image) error) error {
	f, err := fitsio.Open(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to open fits stream: %w", err)
	}
	defer f.Close()
	if len(f.HDUs()) == 0 {
		return fmt.Errorf("fits stream has no hdu")
	}
	im, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return fmt.Errorf("primary hdu is not an image")
	}
	return fn(im.Header(), im)
}

func coordinateCards(cs lattice.CoordinateSystem) []fitsio.Card {
	var cards []fitsio.Card
	if d := cs.Direction; d != nil {
		cards = append(cards,
			fitsio.Card{Name: "CTYPE1", Value: "RA---SIN"},
			fitsio.Card{Name: "CRVAL1", Value: units.RadToDeg(d.RefValue.RA)},
			fitsio.Card{Name: "CDELT1", Value: units.RadToDeg(d.Increment[0])},
			fitsio.Card{Name: "CRPIX1", Value: d.RefPixel[0] + 1},
			fitsio.Card{Name: "CTYPE2", Value: "DEC--SIN"},
			fitsio.Card{Name: "CRVAL2", Value: units.RadToDeg(d.RefValue.Dec)},
			fitsio.Card{Name: "CDELT2", Value: units.RadToDeg(d.Increment[1])},
			fitsio.Card{Name: "CRPIX2", Value: d.RefPixel[1] + 1},
		)
	}
	for i, s := range cs.Stokes {
		cards = append(cards, fitsio.Card{Name: fmt.Sprintf("STOK%04d", i+1), Value: s.String()})
	}
	for i, f := range cs.Spectral.Frequencies {
		cards = append(cards, fitsio.Card{Name: fmt.Sprintf("FREQ%04d", i+1), Value: f, Comment: "Hz"})
	}
	return cards
}

func parseCoordinates(hdr *fitsio.Header) (lattice.CoordinateSystem, error) {
	var cs lattice.CoordinateSystem
	if hdr.Get("CTYPE1") != nil {
		var vals [6]float64
		for i, name := range []string{"CRVAL1", "CRVAL2", "CDELT1", "CDELT2", "CRPIX1", "CRPIX2"} {
			v, err := floatCard(hdr, name)
			if err != nil {
				return cs, err
			}
			vals[i] = v
		}
		cs.Direction = &lattice.DirectionCoordinate{
			RefValue:  lattice.Direction{RA: units.DegToRad(vals[0]), Dec: units.DegToRad(vals[1])},
			Increment: [2]float64{units.DegToRad(vals[2]), units.DegToRad(vals[3])},
			RefPixel:  [2]float64{vals[4] - 1, vals[5] - 1},
		}
	}
	for i := 1; ; i++ {
		card := hdr.Get(fmt.Sprintf("STOK%04d", i))
		if card == nil {
			break
		}
		name, ok := card.Value.(string)
		if !ok {
			return cs, fmt.Errorf("card %s is not a string", card.Name)
		}
		s, err := lattice.ParseStokes(name)
		if err != nil {
			return cs, err
		}
		cs.Stokes = append(cs.Stokes, s)
	}
	for i := 1; hdr.Get(fmt.Sprintf("FREQ%04d", i)) != nil; i++ {
		f, err := floatCard(hdr, fmt.Sprintf("FREQ%04d", i))
		if err != nil {
			return cs, err
		}
		cs.Spectral.Frequencies = append(cs.Spectral.Frequencies, f)
	}
	return cs, nil
}

func floatCard(hdr *fitsio.Header, name string) (float64, error) {
	card := hdr.Get(name)
	if card == nil {
		return 0, fmt.Errorf("missing fits card %s", name)
	}
	switch v := card.Value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("card %s has non-numeric value %v", name, card.Value)
	}
}
