package main

import (
	"context"
	"fmt"

	"github.com/sierrawings/backend/core/maintenance"
)

func (cli *commandLine) broadcast(kind, title, message string) error {
	alert := maintenance.Alert{
		Kind:    kind,
		Title:   title,
		Message: message,
	}
	n, err := cli.mntSvc.Broadcast(context.Background(), alert)
	if err != nil {
		return err
	}
	cli.dispatcher.Flush()
	fmt.Printf("alert sent to %d users\n", n)
	return nil
}
