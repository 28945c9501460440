package launch_test

import "strconv"

// flagValue returns the token following name, or "" if name is absent.
func flagValue(args []string, name string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == name {
			return args[i+1]
		}
	}
	return ""
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
