package kernel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var familyNameList = []string{
	"ThinPlateSpline",
	"ThinPlateR2LogRSpline",
	"VolumeSpline",
	"ElasticBodySpline",
	"ElasticBodyReciprocalSpline",
	"unknown",
	"",
	"thinplatespline",
}

func TestSelect_2DAlwaysR2LogR(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		name := rapid.OneOf(
			rapid.SampledFrom(familyNameList),
			rapid.String(),
		).Draw(rt, "name")

		family, ok := Select(name, 2)
		require.True(rt, ok)
		require.Equal(rt, ThinPlateR2LogRSpline, family)
	})
}

func TestSelect_3DExactMapping(t *testing.T) {
	tests := []struct {
		name   string
		want   Family
		wantOK bool
	}{
		{"ThinPlateSpline", ThinPlateSpline, true},
		{"VolumeSpline", VolumeSpline, true},
		{"ElasticBodySpline", ElasticBodySpline, true},
		{"ElasticBodyReciprocalSpline", ElasticBodyReciprocalSpline, true},
		{"ThinPlateR2LogRSpline", Unknown, false},
		{"unknown", Unknown, false},
		{"", Unknown, false},
		{"ElastixBodyReciprocalSpline", Unknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, dim := range []int{3, 4} {
				got, ok := Select(tt.name, dim)
				require.Equal(t, tt.wantOK, ok, "dim %d", dim)
				require.Equal(t, tt.want, got, "dim %d", dim)
			}
		})
	}
}

func TestSelect_3DRejectsArbitraryStrings(t *testing.T) {
	valid := map[string]bool{
		"ThinPlateSpline":             true,
		"VolumeSpline":                true,
		"ElasticBodySpline":           true,
		"ElasticBodyReciprocalSpline": true,
	}
	rapid.Check(t, func(rt *rapid.T) {
		name := rapid.String().Draw(rt, "name")
		family, ok := Select(name, 3)
		require.Equal(rt, valid[name], ok)
		if !ok {
			require.Equal(rt, Unknown, family)
		}
	})
}

func TestParseFamilyRoundTrip(t *testing.T) {
	for _, f := range Families() {
		got, ok := ParseFamily(f.String())
		require.True(t, ok)
		require.Equal(t, f, got)
	}
	_, ok := ParseFamily("unknown")
	require.False(t, ok)
}

func TestElastic(t *testing.T) {
	require.True(t, ElasticBodySpline.Elastic())
	require.True(t, ElasticBodyReciprocalSpline.Elastic())
	require.False(t, ThinPlateSpline.Elastic())
	require.False(t, VolumeSpline.Elastic())
}

func TestBasis_ScalarFamilies(t *testing.T) {
	x := []float64{3, 4, 0} // r = 5
	dst := make([]float64, 9)

	tests := []struct {
		family Family
		radial float64
	}{
		{ThinPlateSpline, 5},
		{ThinPlateR2LogRSpline, 25 * math.Log(5)},
		{VolumeSpline, 125},
	}
	for _, tt := range tests {
		t.Run(tt.family.String(), func(t *testing.T) {
			NewBasis(tt.family, DefaultPoissonRatio).G(x, dst)
			for i := 0; i < 3; i++ {
				for j := 0; j < 3; j++ {
					want := 0.0
					if i == j {
						want = tt.radial
					}
					require.InDelta(t, want, dst[i*3+j], 1e-12)
				}
			}
		})
	}
}

func TestBasis_ElasticBody(t *testing.T) {
	x := []float64{1, 2, 2} // r = 3
	dst := make([]float64, 9)
	nu := 0.25

	NewBasis(ElasticBodySpline, nu).G(x, dst)
	alpha := 12*(1-nu) - 1
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := -3 * x[i] * x[j] * 3
			if i == j {
				want += alpha * 27
			}
			require.InDelta(t, want, dst[i*3+j], 1e-12)
		}
	}

	NewBasis(ElasticBodyReciprocalSpline, nu).G(x, dst)
	alpha = 8*(1-nu) - 1
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := -3 * x[i] * x[j] / 3
			if i == j {
				want += alpha * 3
			}
			require.InDelta(t, want, dst[i*3+j], 1e-12)
		}
	}
}

func TestBasis_ZeroDistanceIsFinite(t *testing.T) {
	dst := make([]float64, 9)
	for _, f := range Families() {
		NewBasis(f, DefaultPoissonRatio).G([]float64{0, 0, 0}, dst)
		for _, v := range dst {
			require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s", f)
			require.Zero(t, v, "%s", f)
		}
	}
}

func TestBasis_Symmetric(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		x := rapid.SliceOfN(rapid.Float64Range(-100, 100), 3, 3).Draw(rt, "x")
		f := rapid.SampledFrom(Families()).Draw(rt, "family")
		g := make([]float64, 9)
		NewBasis(f, DefaultPoissonRatio).G(x, g)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				require.InDelta(rt, g[i*3+j], g[j*3+i], 1e-9)
			}
		}
	})
}

// gw returns G(x)w.
func gw(b Basis, x, w []float64) []float64 {
	dim := len(x)
	g := make([]float64, dim*dim)
	b.G(x, g)
	out := make([]float64, dim)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			out[i] += g[i*dim+j] * w[j]
		}
	}
	return out
}

func TestBasis_DGMatchesFiniteDifferences(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dim := rapid.IntRange(2, 3).Draw(rt, "dim")
		f := rapid.SampledFrom(Families()).Draw(rt, "family")
		x := rapid.SliceOfN(rapid.Float64Range(-10, 10), dim, dim).Draw(rt, "x")
		w := rapid.SliceOfN(rapid.Float64Range(-2, 2), dim, dim).Draw(rt, "w")
		var r2 float64
		for _, v := range x {
			r2 += v * v
		}
		if r2 < 0.25 {
			rt.Skip("too close to the kernel center")
		}

		b := NewBasis(f, 0.25)
		dg := make([]float64, dim*dim)
		b.DG(x, w, dg)

		const h = 1e-6
		for k := 0; k < dim; k++ {
			plus := append([]float64(nil), x...)
			minus := append([]float64(nil), x...)
			plus[k] += h
			minus[k] -= h
			hi, lo := gw(b, plus, w), gw(b, minus, w)
			for i := 0; i < dim; i++ {
				want := (hi[i] - lo[i]) / (2 * h)
				require.InDelta(rt, want, dg[i*dim+k], 1e-4*(1+math.Abs(want)), "d%d/dx%d", i, k)
			}
		}
	})
}

func TestBasis_DGZeroAtCenter(t *testing.T) {
	for _, f := range Families() {
		dg := []float64{1, 1, 1, 1}
		NewBasis(f, DefaultPoissonRatio).DG([]float64{0, 0}, []float64{1, 2}, dg)
		require.Equal(t, []float64{0, 0, 0, 0}, dg, f.String())
	}
}

func TestParseInversionMethod(t *testing.T) {
	m, ok := ParseInversionMethod("SVD")
	require.True(t, ok)
	require.Equal(t, SVD, m)

	m, ok = ParseInversionMethod("QR")
	require.True(t, ok)
	require.Equal(t, QR, m)
	require.Equal(t, "QR", m.String())

	_, ok = ParseInversionMethod("svd")
	require.False(t, ok)
}
