package models

import (
	"errors"
	"fmt"
)

// ErrNoData возвращается, когда после этапа не осталось строк
var ErrNoData = errors.New("no data")

// MissingChannelError структурная ошибка: этапу нужен канал, которого нет в схеме
type MissingChannelError struct {
	Stage   string
	Channel Channel
}

func (e *MissingChannelError) Error() string {
	return fmt.Sprintf("%s: required channel %q is missing", e.Stage, e.Channel)
}

// RequireChannels проверяет, что схема содержит все нужные этапу каналы
func RequireChannels(stage string, have ChannelSet, need ...Channel) error {
	for _, c := range need {
		if !have.Has(c) {
			return &MissingChannelError{Stage: stage, Channel: c}
		}
	}
	return nil
}
