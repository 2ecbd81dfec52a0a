// Package kernel defines the radial basis kernel families of the spline
// kernel transform and the rule that picks one for a given dimension.
//
// Every family supplies a matrix valued basis G(x), a D x D matrix evaluated
// on the difference vector x between a query point and a landmark. The
// thin-plate and volume families are scalar kernels times the identity; the
// elastic body families couple the axes through x x^T and depend on the
// Poisson ratio of the modelled material.
package kernel

import "math"

// Family is one of the supported kernel families.
type Family int

const (
	Unknown Family = iota
	ThinPlateSpline
	ThinPlateR2LogRSpline
	VolumeSpline
	ElasticBodySpline
	ElasticBodyReciprocalSpline
)

// DefaultPoissonRatio is the Poisson ratio of steel.
const DefaultPoissonRatio = 0.3

var familyNames = map[Family]string{
	Unknown:                     "unknown",
	ThinPlateSpline:             "ThinPlateSpline",
	ThinPlateR2LogRSpline:       "ThinPlateR2LogRSpline",
	VolumeSpline:                "VolumeSpline",
	ElasticBodySpline:           "ElasticBodySpline",
	ElasticBodyReciprocalSpline: "ElasticBodyReciprocalSpline",
}

func (f Family) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}
	return "unknown"
}

// Families lists the known families in declaration order, without Unknown.
func Families() []Family {
	return []Family{
		ThinPlateSpline,
		ThinPlateR2LogRSpline,
		VolumeSpline,
		ElasticBodySpline,
		ElasticBodyReciprocalSpline,
	}
}

// ParseFamily maps a literal family name to its Family, without applying
// any dimensional rule.
func ParseFamily(name string) (Family, bool) {
	for f, n := range familyNames {
		if f != Unknown && n == name {
			return f, true
		}
	}
	return Unknown, false
}

// Elastic reports whether the family depends on the Poisson ratio.
func (f Family) Elastic() bool {
	return f == ElasticBodySpline || f == ElasticBodyReciprocalSpline
}

// Select maps a requested family name and the spatial dimension to the
// family that is actually instantiated.
//
// In 2D only the r^2 log r thin-plate kernel is used, whatever was requested.
// From 3D on, the four 3D family names map to their family; any other name,
// including "ThinPlateR2LogRSpline", yields Unknown and false.
func Select(name string, dim int) (Family, bool) {
	if dim == 2 {
		return ThinPlateR2LogRSpline, true
	}
	switch name {
	case "ThinPlateSpline":
		return ThinPlateSpline, true
	case "VolumeSpline":
		return VolumeSpline, true
	case "ElasticBodySpline":
		return ElasticBodySpline, true
	case "ElasticBodyReciprocalSpline":
		return ElasticBodyReciprocalSpline, true
	}
	return Unknown, false
}

// Basis evaluates G for one family. It is created once per fit so the
// Poisson dependent constant is computed only once.
type Basis struct {
	family Family
	alpha  float64
}

// NewBasis returns the basis for family. poissonRatio is only used by the
// elastic body families.
func NewBasis(family Family, poissonRatio float64) Basis {
	b := Basis{family: family}
	switch family {
	case ElasticBodySpline:
		b.alpha = 12*(1-poissonRatio) - 1
	case ElasticBodyReciprocalSpline:
		b.alpha = 8*(1-poissonRatio) - 1
	}
	return b
}

// Family returns the family the basis evaluates.
func (b Basis) Family() Family {
	return b.family
}

// G writes the D x D basis matrix for difference vector x into dst in row
// major order. len(dst) must be at least len(x)^2.
func (b Basis) G(x []float64, dst []float64) {
	dim := len(x)
	var r2 float64
	for _, v := range x {
		r2 += v * v
	}
	r := math.Sqrt(r2)

	for i := range dst[:dim*dim] {
		dst[i] = 0
	}

	var radial, factor float64
	switch b.family {
	case ThinPlateSpline:
		radial = r
	case ThinPlateR2LogRSpline:
		if r > 1e-8 {
			radial = r2 * math.Log(r)
		}
	case VolumeSpline:
		radial = r2 * r
	case ElasticBodySpline:
		radial = b.alpha * r2 * r
		factor = -3 * r
	case ElasticBodyReciprocalSpline:
		if r > 1e-8 {
			radial = b.alpha * r
			factor = -3 / r
		}
	}

	if factor != 0 {
		for i := 0; i < dim; i++ {
			xi := x[i] * factor
			for j := 0; j < dim; j++ {
				dst[i*dim+j] = xi * x[j]
			}
		}
	}
	for i := 0; i < dim; i++ {
		dst[i*dim+i] += radial
	}
}

// DG writes the derivative of G(x)w with respect to x into dst in row major
// order: dst[i*D+k] is the derivative of component i along x_k. At x = 0,
// where some families have no derivative, it is zero.
func (b Basis) DG(x, w []float64, dst []float64) {
	dim := len(x)
	var r2, xw float64
	for i, v := range x {
		r2 += v * v
		xw += v * w[i]
	}
	r := math.Sqrt(r2)

	for i := range dst[:dim*dim] {
		dst[i] = 0
	}
	if r <= 1e-8 {
		return
	}

	// G(x)w = phi(r) w + psi(r) x (x.w); dphi and dpsi are phi'/r and psi'/r.
	var dphi, psi, dpsi float64
	switch b.family {
	case ThinPlateSpline:
		dphi = 1 / r
	case ThinPlateR2LogRSpline:
		dphi = 2*math.Log(r) + 1
	case VolumeSpline:
		dphi = 3 * r
	case ElasticBodySpline:
		dphi = 3 * b.alpha * r
		psi = -3 * r
		dpsi = -3 / r
	case ElasticBodyReciprocalSpline:
		dphi = b.alpha / r
		psi = -3 / r
		dpsi = 3 / (r2 * r)
	}

	for i := 0; i < dim; i++ {
		for k := 0; k < dim; k++ {
			v := dphi*x[k]*w[i] + dpsi*x[k]*x[i]*xw + psi*x[i]*w[k]
			if i == k {
				v += psi * xw
			}
			dst[i*dim+k] = v
		}
	}
}
