// Package multibag implements the Multibag BagIt profile's head bag
// model: the member-bags.tsv, file-lookup.tsv, and deleted.txt tag files
// plus the Multibag-* tags in bag-info.txt. A HeadBag gives read access
// over any bag; a WritableHeadBag adds the update and persistence
// operations for bags stored as local directories.
package multibag

// CurrentVersion is the latest version of the multibag profile
// supported by this module.
const CurrentVersion = "0.4"

// CurrentReference is the default URL recorded in the
// Multibag-Reference tag.
const CurrentReference = "https://github.com/usnistgov/multibag-py/blob/master/docs/multibag-profile-spec.md"

// DefaultTagDir is the tag directory used when Multibag-Tag-Directory
// is not set.
const DefaultTagDir = "multibag"

// aboutMorsel identifies the standard profile sentence inside an
// Internal-Sender-Description value, so it is not appended twice.
const aboutMorsel = "complies with the Multibag BagIt profile"

// AboutMultibag is the sentence appended to Internal-Sender-Description
// when a bag is stamped as a head bag.
const AboutMultibag = "This bag " + aboutMorsel +
	".  For more information, refer to the URL given by Multibag-Reference tag."
