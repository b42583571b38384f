package driver

// Range is a work-item range: global is "total number of work-items",
// local is "work-items per work-group" (spec Glossary). Only the product
// of the dimensions matters to the reference driver's dispatch loop; the
// per-dimension values are kept so a kernel function can recover 2D/3D
// coordinates the way a real OpenCL NDRange would expose them.
type Range struct {
	X, Y, Z int
}

// Size returns the total number of work-items described by r.
func (r Range) Size() int {
	x, y, z := r.X, r.Y, r.Z
	if x == 0 {
		x = 1
	}
	if y == 0 {
		y = 1
	}
	if z == 0 {
		z = 1
	}
	return x * y * z
}

// Range1D is a convenience constructor for a purely linear work range.
func Range1D(n int) Range { return Range{X: n, Y: 1, Z: 1} }
