package services

import (
	"context"

	"chairlink/models"
)

// Notifier delivers connectivity alerts to people or other systems
type Notifier interface {
	SendConnectivityAlert(ctx context.Context, alert models.ConnectivityAlert) error
}
