// Package chat holds the types every platform adapter and the scanning core
// agree on: a Message, a pull-based Stream of message batches, the Source a
// scan is submitted with, and the Filter that decides which messages are
// shown.
//
// It also contains the live chat watcher:
//   - Watch: connects anonymously to Twitch IRC for one or more channels and
//     hands every PRIVMSG that passes the filter to an EmitFunc. Live chat is
//     unbounded, so it bypasses the ordered scan path entirely.
//
// Streams end with google.golang.org/api/iterator.Done, the same terminal
// sentinel the Google client libraries use.
package chat
