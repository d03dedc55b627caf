package main

import "github.com/hydrabase/realtime/internal/daemon"

func main() {
	daemon.Main()
}
