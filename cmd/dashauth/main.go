package main

import "github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/cmd"

func main() {
	cmd.Execute()
}
