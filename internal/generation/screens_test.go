package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScreens(t *testing.T) {
	response := "Here are your screens.\n\n" +
		"```html screen:Home\n<html><body>home</body></html>\n```\n\n" +
		"The home screen links to login.\n\n" +
		"```html screen:Login\n<html><body>login</body></html>\n```\n\n" +
		"Let me know what to change."

	screens, narrative := ParseScreens(response)
	require.Len(t, screens, 2)

	assert.Equal(t, "Home", screens[0].Name)
	assert.Equal(t, "<html><body>home</body></html>", screens[0].HTML)
	assert.Equal(t, "Login", screens[1].Name)

	assert.Contains(t, narrative, "Here are your screens.")
	assert.Contains(t, narrative, "links to login")
	assert.Contains(t, narrative, "what to change")
	assert.NotContains(t, narrative, "<html>")
}

func TestParseScreensNoFences(t *testing.T) {
	screens, narrative := ParseScreens("Just a discussion, no code.")
	assert.Empty(t, screens)
	assert.Equal(t, "Just a discussion, no code.", narrative)
}

func TestParseScreensUnterminatedFence(t *testing.T) {
	response := "```html screen:Cart\n<html>cart"
	screens, _ := ParseScreens(response)
	require.Len(t, screens, 1)
	assert.Equal(t, "Cart", screens[0].Name)
	assert.Equal(t, "<html>cart", screens[0].HTML)
}

func TestParseScreensNameWithSpaces(t *testing.T) {
	response := "```html screen:Order History\n<div>orders</div>\n```"
	screens, _ := ParseScreens(response)
	require.Len(t, screens, 1)
	assert.Equal(t, "Order History", screens[0].Name)
}
