package gpu

// SetCloseFd swaps the descriptor closer and returns a restore func
func SetCloseFd(f func(int) error) func() {
	orig := closeFd
	closeFd = f
	return func() { closeFd = orig }
}
