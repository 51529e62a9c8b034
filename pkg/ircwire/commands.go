package ircwire

import (
	"fmt"

	"gopkg.in/sorcix/irc.v2"
)

const lineEnd = "\r\n"

func Nick(nick string) string {
	return fmt.Sprintf("%s %s%s", irc.NICK, nick, lineEnd)
}

func User(nick string) string {
	return fmt.Sprintf("%s %s 0 * %s%s", irc.USER, nick, nick, lineEnd)
}

func Pong(payload string) string {
	return fmt.Sprintf("%s :%s%s", irc.PONG, payload, lineEnd)
}

func Join(channel string) string {
	if len(channel) == 0 || channel[0] != '#' {
		channel = "#" + channel
	}
	return fmt.Sprintf("%s %s%s", irc.JOIN, channel, lineEnd)
}

func Quit(reason string) string {
	return fmt.Sprintf("%s :%s%s", irc.QUIT, reason, lineEnd)
}

func XdccSend(bot string, pack int) string {
	return privmsg(bot, fmt.Sprintf("xdcc send #%d", pack))
}

func XdccRemove(bot string, pack int) string {
	return privmsg(bot, fmt.Sprintf("xdcc remove #%d", pack))
}

func XdccCancel(bot string) string {
	return privmsg(bot, "xdcc cancel")
}

// DccResume asks the bot to restart the offer on port from offset.
func DccResume(bot, filename, port string, offset int64) string {
	return privmsg(bot, fmt.Sprintf("%sDCC RESUME \"%s\" %s %d%s", ctcpDelim, filename, port, offset, ctcpDelim))
}

func privmsg(target, text string) string {
	return fmt.Sprintf("%s %s :%s%s", irc.PRIVMSG, target, text, lineEnd)
}
