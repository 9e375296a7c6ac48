//go:build !linux

package relocate

func renameNoReplace(src, dst string) error { return linkNoReplace(src, dst) }
