package similarity

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"
	"strconv"

	"golang.org/x/image/draw"
)

// hashWidth x hashHeight is the downsample size for the difference hash;
// one extra column gives 8 horizontal comparisons per row.
const (
	hashWidth  = 9
	hashHeight = 8
)

// Fingerprint is a 64-bit difference hash of a frame.
type Fingerprint uint64

// String renders the fingerprint as 16 hex digits.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}

// ParseFingerprint parses the output of Fingerprint.String.
func ParseFingerprint(s string) (Fingerprint, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, err
	}
	return Fingerprint(v), nil
}

// FromImage computes the difference hash of img.
func FromImage(img image.Image) Fingerprint {
	small := image.NewGray(image.Rect(0, 0, hashWidth, hashHeight))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	var fp uint64
	bit := 0
	for y := 0; y < hashHeight; y++ {
		row := small.Pix[y*small.Stride : y*small.Stride+hashWidth]
		for x := 0; x < hashWidth-1; x++ {
			if row[x] > row[x+1] {
				fp |= 1 << uint(bit)
			}
			bit++
		}
	}
	return Fingerprint(fp)
}

// Decoded carries what the pipeline needs from an encoded frame.
type Decoded struct {
	Fingerprint Fingerprint
	Width       int
	Height      int
}

// FromEncoded decodes a PNG or JPEG frame and fingerprints it.
func FromEncoded(data []byte) (Decoded, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Decoded{}, fmt.Errorf("decode frame: %w", err)
	}
	b := img.Bounds()
	return Decoded{
		Fingerprint: FromImage(img),
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}

// Hamming returns the number of differing bits.
func Hamming(a, b Fingerprint) int {
	return bits.OnesCount64(uint64(a ^ b))
}
