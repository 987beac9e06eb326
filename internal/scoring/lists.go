package scoring

// Domains commonly used to redistribute paid courses and media.
var piracyDomains = []string{
	"courseclub",
	"freecoursesite",
	"getfreecourses",
	"tutorialbar",
	"desirecourse",
	"myfreecourses",
	"paidcoursesfree",
	"udemy24",
	"freetutorials",
	"downloadly",
	"1337x",
	"thepiratebay",
	"torrentgalaxy",
	"mega.nz",
	"drive.google.com",
	"t.me",
	"telegram",
}

var videoPiracyDomains = []string{
	"yts",
	"rarbg",
	"rutracker",
	"nyaa",
	"kickass",
	"katcr",
	"btdig",
	"limetorrents",
	"eztv",
	"seedpeer",
	"gload",
	"fmovies",
	"123movies",
	"putlocker",
}

var pdfPiracyDomains = []string{
	"libgen",
	"lib.gen",
	"sci-hub",
	"z-lib",
	"zlibrary",
	"pdfdrive",
	"pdfsearchengine",
	"ebookee",
	"ebook3000",
	"bookzz",
	"b-ok",
	"booksc",
	"scribd",
	"slideshare",
	"issuu",
	"calameo",
}

var freeKeywords = []string{
	"free download",
	"free course",
	"torrent",
	"mega link",
	"google drive",
	"telegram",
	"crack",
	"pirated",
	"nulled",
}

var videoKeywords = []string{
	"mp4 download",
	"mkv download",
	"full course download",
	"video leak",
	"course rip",
	"hdtv",
	"webrip",
	"720p",
	"1080p",
	"4k download",
	"course videos free",
}

var pdfKeywords = []string{
	"pdf free download",
	"pdf leak",
	"ebook free",
	"epub download",
	"pdf torrent",
	"workbook free",
	"guide pdf",
	"cheatsheet free",
	"slides download",
	"course materials free",
}

var videoExtensions = []string{".mp4", ".mkv", ".avi", ".mov"}

var documentExtensions = []string{".pdf", ".epub", ".mobi"}

// Release-quality tags that mark a torrent as a rip rather than a trailer
// or an unrelated upload.
var qualityIndicators = []string{"rip", "webrip", "dvdrip", "hdtv", "1080p", "720p", "4k", "x264", "x265", "hevc"}
