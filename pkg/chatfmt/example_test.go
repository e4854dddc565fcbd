// Copyright 2024-2026 Aiku AI

package chatfmt_test

import (
	"fmt"

	"github.com/aiku/mattermost-gamebridge/pkg/chatfmt"
)

func ExampleToGameText() {
	fmt.Println(chatfmt.ToGameText("**gg** see [map](https://maps.example.com)"))
	// Output: gg see map (https://maps.example.com)
}
