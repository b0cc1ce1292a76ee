package main

import (
	"github.com/sirupsen/logrus"

	"github-activity-relay/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		logrus.Fatalf("application error: %v", err)
	}
}
